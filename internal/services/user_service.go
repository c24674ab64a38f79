package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"github.com/donorlog/donorlog/internal/apperror"
	"github.com/donorlog/donorlog/internal/models"
	"github.com/donorlog/donorlog/internal/repositories"
	"github.com/donorlog/donorlog/pkg/logger"
	"github.com/sirupsen/logrus"
)

const (
	usernameSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	usernameSuffixLength   = 5
)

// UserService reconciles freshly authenticated external identities with internal users.
type UserService struct {
	userRepo *repositories.UserRepository
	suffix   func() (string, error)
}

func NewUserService(userRepo *repositories.UserRepository) *UserService {
	return &UserService{
		userRepo: userRepo,
		suffix:   randomUsernameSuffix,
	}
}

// InsertOrUpdateGithubUser reconciles a GitHub identity. sessionUserID is 0 when
// nobody is logged in.
func (s *UserService) InsertOrUpdateGithubUser(ctx context.Context, githubUser *models.GithubUser, sessionUserID int64) (*models.User, error) {
	if githubUser == nil {
		return nil, apperror.ValidationFailed("github_user", "github user is required")
	}
	return s.Reconcile(ctx, githubUser.Identity(), sessionUserID)
}

// InsertOrUpdateOpencollectiveUser reconciles an OpenCollective identity.
func (s *UserService) InsertOrUpdateOpencollectiveUser(ctx context.Context, ocUser *models.OpencollectiveUser, sessionUserID int64) (*models.User, error) {
	if ocUser == nil {
		return nil, apperror.ValidationFailed("opencollective_user", "opencollective user is required")
	}
	return s.Reconcile(ctx, ocUser.Identity(), sessionUserID)
}

// Reconcile maps identity onto an internal user inside one transaction:
//
//   - nobody logged in and nobody owns the identity: create a user named after it
//   - the identity belongs to a user other than the session user: delete that
//     user and attach the identity to the session user
//   - otherwise: upsert the identity on the session user, or on its owner
//
// A session user id that no longer exists counts as no session. The returned
// user carries only id and username.
func (s *UserService) Reconcile(ctx context.Context, identity models.ExternalIdentity, sessionUserID int64) (*models.User, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	log := logger.WithFields(logrus.Fields{
		"provider":    identity.Provider,
		"external_id": identity.ExternalID,
	})

	var result *models.User
	err := s.userRepo.InTx(ctx, func(tx *repositories.UserTx) error {
		if err := tx.LockIdentity(ctx, identity.Provider, identity.ExternalID); err != nil {
			return err
		}

		var sessionUser *models.User
		if sessionUserID != 0 {
			u, err := tx.FindUser(ctx, sessionUserID)
			if err != nil {
				return err
			}
			sessionUser = u
		}
		owner, err := tx.FindOwner(ctx, identity.Provider, identity.ExternalID)
		if err != nil {
			return err
		}

		switch {
		case sessionUser == nil && owner == nil:
			user, err := s.createUser(ctx, tx, identity.Username)
			if err != nil {
				return err
			}
			log.WithField("user_id", user.UserID).Info("Created user")
			result = user

		case sessionUser != nil && owner != nil && owner.UserID != sessionUser.UserID:
			if err := tx.DeleteUser(ctx, owner.UserID); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"deleted_user_id": owner.UserID,
				"user_id":         sessionUser.UserID,
			}).Info("Merged identity into session user")
			result = sessionUser

		case sessionUser != nil:
			result = sessionUser

		default:
			result = owner
		}

		return tx.UpsertIdentity(ctx, result.UserID, identity)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// createUser names the user after the provider username, adding one random
// suffix when that name is taken.
func (s *UserService) createUser(ctx context.Context, tx *repositories.UserTx, seed string) (*models.User, error) {
	taken, err := tx.UsernameExists(ctx, seed)
	if err != nil {
		return nil, err
	}
	if !taken {
		user, err := tx.CreateUser(ctx, seed)
		if !errors.Is(err, apperror.ErrConflict) {
			return user, err
		}
		// claimed by a concurrent login after the check
	}

	suffix, err := s.suffix()
	if err != nil {
		return nil, err
	}
	return tx.CreateUser(ctx, seed+"_"+suffix)
}

// LookupUserByUsername returns the user with both identities and cached amounts.
func (s *UserService) LookupUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.userRepo.GetByUsername(ctx, username)
}

func (s *UserService) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

// UpdateUsername renames a user. It returns false when the name is taken.
func (s *UserService) UpdateUsername(ctx context.Context, userID int64, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, apperror.ValidationFailed("username", "username is required")
	}
	ok, err := s.userRepo.UpdateUsername(ctx, userID, username)
	if err != nil {
		return false, err
	}
	if ok {
		logger.WithFields(logrus.Fields{"user_id": userID, "username": username}).Info("Renamed user")
	}
	return ok, nil
}

func randomUsernameSuffix() (string, error) {
	b := make([]byte, usernameSuffixLength)
	alphabetSize := big.NewInt(int64(len(usernameSuffixAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		b[i] = usernameSuffixAlphabet[n.Int64()]
	}
	return string(b), nil
}
