package taxonomy

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/timebridge/internal/connector/timelog"
	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
)

// UserLister lists the target system's users.
type UserLister interface {
	Users(ctx context.Context) ([]timelog.User, error)
}

// NameLookup resolves source account ids to display names.
type NameLookup interface {
	DisplayName(ctx context.Context, accountID string) (string, error)
}

// Account is a source account seen on imported entries.
type Account struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Employees manages the account to target-user mapping used when booking.
type Employees struct {
	store *store.Store
	users UserLister
	names NameLookup
}

// NewEmployees returns an Employees. users and names may be nil when the
// corresponding API is not configured.
func NewEmployees(st *store.Store, users UserLister, names NameLookup) *Employees {
	return &Employees{store: st, users: users, names: names}
}

// Unmapped returns the account ids on imported entries that have no
// mapping yet, with display names when they can be resolved.
func (em *Employees) Unmapped(ctx context.Context) ([]Account, error) {
	ids, err := em.store.UnmappedAccountIDs(ctx)
	if err != nil {
		return nil, err
	}

	accounts := make([]Account, len(ids))
	for i, id := range ids {
		accounts[i].AccountID = id
	}
	if em.names == nil {
		return accounts, nil
	}

	// Each goroutine writes only its own slot.
	var g errgroup.Group
	g.SetLimit(8)
	for i := range accounts {
		g.Go(func() error {
			name, err := em.names.DisplayName(ctx, accounts[i].AccountID)
			if err != nil {
				slog.Debug("display name lookup failed", "account_id", accounts[i].AccountID, "error", err)
				return nil
			}
			accounts[i].DisplayName = name
			return nil
		})
	}
	g.Wait()
	return accounts, nil
}

// Map links accountID to the target user with id targetUserID. The target
// user must exist; names are filled in from both systems when available.
func (em *Employees) Map(ctx context.Context, accountID string, targetUserID int64) (model.EmployeeMapping, error) {
	m := model.EmployeeMapping{AccountID: accountID, TargetUserID: targetUserID}

	if em.users != nil {
		users, err := em.users.Users(ctx)
		if err != nil {
			return model.EmployeeMapping{}, fmt.Errorf("map %s: list users: %w", accountID, err)
		}
		found := false
		for _, u := range users {
			if int64(u.UserID) == targetUserID {
				m.TargetUserName = model.StringPtr(u.FullName())
				found = true
				break
			}
		}
		if !found {
			return model.EmployeeMapping{}, fmt.Errorf("map %s: target user %d does not exist", accountID, targetUserID)
		}
	}

	if em.names != nil {
		if name, err := em.names.DisplayName(ctx, accountID); err == nil {
			m.DisplayName = model.StringPtr(name)
		} else {
			slog.Debug("display name lookup failed", "account_id", accountID, "error", err)
		}
	}

	id, err := em.store.UpsertEmployeeMapping(ctx, m)
	if err != nil {
		return model.EmployeeMapping{}, err
	}
	m.ID = id
	slog.Info("employee mapped", "account_id", accountID, "target_user_id", targetUserID)
	return m, nil
}
