package handlers

import (
	"fmt"
	"net/http"

	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const (
	exportSize        = 100
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	leaderboardExport = "leaderboard.xlsx"
)

type ExportHandler struct {
	rankingService *services.RankingService
}

func NewExportHandler(rankingService *services.RankingService) *ExportHandler {
	return &ExportHandler{
		rankingService: rankingService,
	}
}

// Leaderboard downloads the total and month leaderboards as a workbook
func (h *ExportHandler) Leaderboard(c *gin.Context) {
	ctx := c.Request.Context()
	totals, err := h.rankingService.RankedTotals(ctx, exportSize)
	if err != nil {
		respondError(c, err)
		return
	}
	months, err := h.rankingService.RankedMonths(ctx, exportSize)
	if err != nil {
		respondError(c, err)
		return
	}

	f, err := buildLeaderboardWorkbook(totals, months)
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, leaderboardExport))
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		c.Error(err)
	}
}

// buildLeaderboardWorkbook writes one sheet per ranking: rank, username, amount.
func buildLeaderboardWorkbook(totals, months []models.RankedUser) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", "Total"); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet("Month"); err != nil {
		f.Close()
		return nil, err
	}

	sheets := []struct {
		name   string
		users  []models.RankedUser
		rank   func(models.RankedUser) int64
		amount func(models.RankedUser) int64
	}{
		{"Total", totals, func(u models.RankedUser) int64 { return u.TotalRank }, func(u models.RankedUser) int64 { return u.TotalCents }},
		{"Month", months, func(u models.RankedUser) int64 { return u.MonthRank }, func(u models.RankedUser) int64 { return u.MonthCents }},
	}
	for _, sheet := range sheets {
		if err := f.SetSheetRow(sheet.name, "A1", &[]interface{}{"Rank", "Username", "Amount"}); err != nil {
			f.Close()
			return nil, err
		}
		for i, u := range sheet.users {
			cell, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				f.Close()
				return nil, err
			}
			row := []interface{}{sheet.rank(u), u.Username, models.FormatCents(sheet.amount(u))}
			if err := f.SetSheetRow(sheet.name, cell, &row); err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	return f, nil
}
