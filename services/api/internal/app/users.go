package app

import (
	"context"
	"strings"

	"clipscope/internal/util"
	"clipscope/pkg/domain"
	"clipscope/pkg/usage"
)

// Account is a user together with the plan that currently governs it.
type Account struct {
	User         domain.User          `json:"user"`
	Plan         domain.Plan          `json:"plan"`
	Subscription *domain.Subscription `json:"subscription,omitempty"`
}

// lookupCaller finds the caller's account without creating it.
func (a *App) lookupCaller(c Caller) (Account, error) {
	subject := strings.TrimSpace(c.Subject)
	if subject == "" {
		return Account{}, newError(KindUnauthenticated, msgIdentityRequired)
	}
	user, ok, err := a.store.GetUserByExternalID(subject)
	if err != nil {
		return Account{}, wrapError(KindInternal, msgStoreUnavailable, err)
	}
	if !ok {
		return Account{}, newError(KindNotFound, msgUserNotFound)
	}
	return a.account(user)
}

func (a *App) account(user domain.User) (Account, error) {
	sub, ok, err := a.store.GetSubscription(user.ID)
	if err != nil {
		return Account{}, wrapError(KindInternal, msgStoreUnavailable, err)
	}
	acct := Account{User: user, Plan: domain.PlanFree}
	if ok {
		acct.Plan = sub.EffectivePlan()
		acct.Subscription = &sub
	}
	return acct, nil
}

// GetOrCreateUser returns the caller's account, creating the user with an
// empty usage row for the current month on first sight. The email comes
// from the token, or from the identity provider when the token has none.
func (a *App) GetOrCreateUser(ctx context.Context, c Caller) (Account, error) {
	subject := strings.TrimSpace(c.Subject)
	if subject == "" {
		return Account{}, newError(KindUnauthenticated, msgIdentityRequired)
	}
	user, ok, err := a.store.GetUserByExternalID(subject)
	if err != nil {
		return Account{}, a.internal(ctx, "get user", err)
	}
	if ok {
		return a.account(user)
	}

	email := strings.TrimSpace(c.Email)
	if email == "" && a.profiles != nil && c.Token != "" {
		email, err = a.profiles.Email(ctx, c.Token)
		if err != nil {
			util.LoggerFromContext(ctx).Warn("identity profile lookup failed", "subject", subject, "err", err)
			email = ""
		}
	}
	now := a.now().UTC()
	user, created, err := a.store.CreateUserIfAbsent(domain.User{
		ID:         util.NewID(),
		ExternalID: subject,
		Email:      email,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, usage.MonthKey(now))
	if err != nil {
		return Account{}, a.internal(ctx, "create user", err)
	}
	if created {
		util.LoggerFromContext(ctx).Info("user created", "user_id", user.ID, "subject", subject)
	}
	return a.account(user)
}
