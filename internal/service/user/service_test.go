package user

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	partdomain "github.com/open-builders/soulpull-backend/internal/domain/participation"
	domain "github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/platform/telegram"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/repository/memory"
	"github.com/open-builders/soulpull-backend/internal/service/participation"
)

type cacheMock struct{ mock.Mock }

func (m *cacheMock) Invalidate(ctx context.Context, addresses ...string) error {
	args := m.Called(addresses)
	return args.Error(0)
}

type initDataStub struct {
	user *telegram.InitDataUser
	err  error
}

func (s initDataStub) Validate(string) (*telegram.InitDataUser, error) { return s.user, s.err }

func wallet(n int) string { return fmt.Sprintf("0:%064x", n) }

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewService(store, nil, nil, zerolog.Nop()), store
}

func code(err error) string { return apperrors.CodeOf(err) }

func registerCode(t *testing.T, store repository.Store, ac domain.AuthorCode) {
	t.Helper()
	require.NoError(t, store.Update(context.Background(), func(tx repository.Tx) error {
		return tx.AuthorCodes().Create(context.Background(), &ac)
	}))
}

func TestRegister_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	u1, err := s.Register(ctx, 111, "@alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u1.Username())

	u2, err := s.Register(ctx, 111, "alice_new")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)
	assert.Equal(t, "alice_new", u2.Username())

	u3, err := s.Register(ctx, 111, "")
	require.NoError(t, err)
	assert.Equal(t, "alice_new", u3.Username())

	_, err = s.Register(ctx, 0, "x")
	assert.Equal(t, apperrors.CodeInvalidTelegramID, code(err))
}

func TestRegister_Concurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := s.Register(ctx, 111, "alice")
			if assert.NoError(t, err) {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestScenarioC_ApplyInviter(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	u, err := s.Register(ctx, 111, "alice")
	require.NoError(t, err)

	_, err = s.ApplyInviter(ctx, u.ID, "notanumber")
	assert.Equal(t, apperrors.CodeInvalidInviterFormat, code(err))

	_, err = s.ApplyInviter(ctx, u.ID, "@bob")
	assert.Equal(t, apperrors.CodeInvalidInviterFormat, code(err))

	_, err = s.ApplyInviter(ctx, u.ID, wallet(1))
	assert.Equal(t, apperrors.CodeInvalidInviterFormat, code(err))

	_, err = s.ApplyInviter(ctx, u.ID, "111")
	assert.Equal(t, apperrors.CodeSelfReferral, code(err))

	got, err := s.ApplyInviter(ctx, u.ID, "222")
	require.NoError(t, err)
	assert.Equal(t, int64(222), *got.InviterTelegramID)

	_, err = s.ApplyInviter(ctx, u.ID, "333")
	assert.Equal(t, apperrors.CodeInviterImmutable, code(err))
	_, err = s.ApplyInviter(ctx, u.ID, "222")
	assert.Equal(t, apperrors.CodeInviterImmutable, code(err))

	after, err := s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(222), *after.InviterTelegramID)
}

func TestApplyInviter_RequiresTelegram(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	u, err := s.UpsertWallet(ctx, wallet(1), "")
	require.NoError(t, err)

	_, err = s.ApplyInviter(ctx, u.ID, "222")
	assert.Equal(t, apperrors.CodeTelegramNotLinked, code(err))

	_, err = s.ApplyInviter(ctx, 999, "222")
	assert.Equal(t, apperrors.CodeUserNotFound, code(err))
}

func TestApplyAuthorCode_SetOnce(t *testing.T) {
	ctx := context.Background()
	s, store := newService(t)
	u, err := s.Register(ctx, 111, "alice")
	require.NoError(t, err)
	blogger, err := s.Register(ctx, 900, "blogger")
	require.NoError(t, err)
	registerCode(t, store, domain.AuthorCode{Code: "BLOGGER_1", OwnerUserID: blogger.ID, Active: true})
	registerCode(t, store, domain.AuthorCode{Code: "OTHER", OwnerUserID: blogger.ID, Active: true})

	for _, bad := range []string{"", "x", "has space", "way-too-long-author-code-over-32-chars"} {
		_, err = s.ApplyAuthorCode(ctx, u.ID, bad)
		assert.Equal(t, apperrors.CodeInvalidAuthorCode, code(err), bad)
	}

	got, err := s.ApplyAuthorCode(ctx, u.ID, " BLOGGER_1 ")
	require.NoError(t, err)
	assert.Equal(t, "BLOGGER_1", *got.AuthorCode)

	_, err = s.ApplyAuthorCode(ctx, u.ID, "OTHER")
	assert.Equal(t, apperrors.CodeAuthorCodeApplied, code(err))

	after, err := s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "BLOGGER_1", *after.AuthorCode)
}

func TestApplyAuthorCode_Registry(t *testing.T) {
	ctx := context.Background()
	s, store := newService(t)
	owner, err := s.Register(ctx, 900, "blogger")
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	registerCode(t, store, domain.AuthorCode{Code: "LIVE_1", OwnerUserID: owner.ID, Active: true})
	registerCode(t, store, domain.AuthorCode{Code: "OFF_1", OwnerUserID: owner.ID})
	registerCode(t, store, domain.AuthorCode{Code: "GONE_1", OwnerUserID: owner.ID, Active: true, ExpiresAt: &past})

	u, err := s.Register(ctx, 111, "alice")
	require.NoError(t, err)
	for _, c := range []string{"NOPE_1", "OFF_1", "GONE_1", "live_1"} {
		_, err = s.ApplyAuthorCode(ctx, u.ID, c)
		assert.Equal(t, apperrors.CodeAuthorCodeNotFound, code(err), c)
	}

	_, err = s.ApplyAuthorCode(ctx, owner.ID, "LIVE_1")
	assert.Equal(t, apperrors.CodeOwnAuthorCode, code(err))

	after, err := s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, after.AuthorCode)

	got, err := s.ApplyAuthorCode(ctx, u.ID, "LIVE_1")
	require.NoError(t, err)
	assert.Equal(t, "LIVE_1", *got.AuthorCode)
}

func TestUpsertWallet(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	u1, err := s.UpsertWallet(ctx, wallet(1), "aa")
	require.NoError(t, err)
	u2, err := s.UpsertWallet(ctx, wallet(1), "bb")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)
	assert.Equal(t, "bb", *u2.PublicKey)
}

func TestLinkWallet_AttachAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	u, err := s.Register(ctx, 111, "alice")
	require.NoError(t, err)

	linked, err := s.LinkWallet(ctx, 111, "", wallet(1))
	require.NoError(t, err)
	assert.Equal(t, u.ID, linked.ID)
	assert.Equal(t, wallet(1), linked.Wallet())

	again, err := s.LinkWallet(ctx, 111, "", wallet(1))
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)

	_, err = s.LinkWallet(ctx, 111, "", wallet(2))
	assert.Equal(t, apperrors.CodeTelegramAlreadyLinked, code(err))

	_, err = s.LinkWallet(ctx, 222, "", wallet(1))
	assert.Equal(t, apperrors.CodeWalletAlreadyLinked, code(err))

	_, err = s.LinkWallet(ctx, 111, "", "garbage")
	assert.Equal(t, apperrors.CodeInvalidAddress, code(err))

	fresh, err := s.LinkWallet(ctx, 333, "carol", wallet(3))
	require.NoError(t, err)
	assert.Equal(t, int64(333), *fresh.TelegramID)
	assert.Equal(t, wallet(3), fresh.Wallet())
}

func TestLinkWallet_MergesRecords(t *testing.T) {
	ctx := context.Background()
	cache := &cacheMock{}
	store := memory.NewStore()
	s := NewService(store, cache, nil, zerolog.Nop())
	cache.On("Invalidate", []string{wallet(1)}).Return(nil)

	tg, err := s.Register(ctx, 111, "alice")
	require.NoError(t, err)
	author, err := s.Register(ctx, 900, "blogger")
	require.NoError(t, err)
	registerCode(t, store, domain.AuthorCode{Code: "CODE_A", OwnerUserID: author.ID, Active: true})
	_, err = s.ApplyAuthorCode(ctx, tg.ID, "CODE_A")
	require.NoError(t, err)

	w, err := s.UpsertWallet(ctx, wallet(1), "pk")
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, func(tx repository.Tx) error {
		return tx.Users().AddPoints(ctx, w.ID, 5)
	}))

	merged, err := s.LinkWallet(ctx, 111, "", wallet(1))
	require.NoError(t, err)
	assert.Equal(t, tg.ID, merged.ID)
	assert.Equal(t, wallet(1), merged.Wallet())
	assert.Equal(t, "pk", *merged.PublicKey)
	assert.Equal(t, "CODE_A", *merged.AuthorCode)
	assert.Equal(t, int64(5), merged.Points)

	loser, err := s.Get(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, loser.MergedInto)
	assert.Equal(t, tg.ID, *loser.MergedInto)
	assert.False(t, loser.HasWallet())
	assert.False(t, loser.HasTelegram())
	assert.Zero(t, loser.Points)

	cache.AssertExpectations(t)
}

func TestLinkTelegram_WalletRecordWithHistorySurvives(t *testing.T) {
	ctx := context.Background()
	s, store := newService(t)

	tg, err := s.Register(ctx, 111, "alice")
	require.NoError(t, err)
	w, err := s.UpsertWallet(ctx, wallet(1), "")
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, func(tx repository.Tx) error {
		return tx.Participations().Create(ctx, &partdomain.Participation{
			UserID: w.ID, Status: partdomain.StatusRejected, AmountCents: 1500, ValidUntil: time.Now(),
		})
	}))

	got, err := s.LinkTelegram(ctx, w.ID, 111, "alice")
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
	assert.Equal(t, int64(111), *got.TelegramID)
	assert.Equal(t, "alice", got.Username())

	old, err := s.Get(ctx, tg.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, *old.MergedInto)

	byTG, err := s.GetByTelegramID(ctx, 111)
	require.NoError(t, err)
	assert.Equal(t, w.ID, byTG.ID)
}

func TestLinkTelegram_BothHaveHistory(t *testing.T) {
	ctx := context.Background()
	s, store := newService(t)

	tg, err := s.Register(ctx, 111, "alice")
	require.NoError(t, err)
	w, err := s.UpsertWallet(ctx, wallet(1), "")
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, func(tx repository.Tx) error {
		for _, id := range []int64{tg.ID, w.ID} {
			err := tx.Participations().Create(ctx, &partdomain.Participation{
				UserID: id, Status: partdomain.StatusRejected, AmountCents: 1500, ValidUntil: time.Now(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	_, err = s.LinkTelegram(ctx, w.ID, 111, "alice")
	assert.Equal(t, apperrors.CodeIdentityConflict, code(err))

	// nothing changed
	still, err := s.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, still.HasTelegram())
}

func TestVerifyTelegram(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	w, err := NewService(store, nil, nil, zerolog.Nop()).UpsertWallet(ctx, wallet(1), "")
	require.NoError(t, err)

	disabled := NewService(store, nil, nil, zerolog.Nop())
	_, err = disabled.VerifyTelegram(ctx, w.ID, "x")
	assert.Equal(t, apperrors.CodeTelegramVerifyNotEnabled, code(err))

	failing := NewService(store, nil, initDataStub{err: apperrors.ErrTelegramVerification}, zerolog.Nop())
	_, err = failing.VerifyTelegram(ctx, w.ID, "x")
	assert.Equal(t, apperrors.CodeTelegramVerification, code(err))

	ok := NewService(store, nil, initDataStub{user: &telegram.InitDataUser{ID: 777, Username: "eve"}}, zerolog.Nop())
	u, err := ok.VerifyTelegram(ctx, w.ID, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(777), *u.TelegramID)
	assert.Equal(t, "eve", u.Username())
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	s, store := newService(t)
	u, err := s.Register(ctx, 111, "alice")
	require.NoError(t, err)

	p, err := s.Profile(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, p.Participation)
	assert.Empty(t, p.Referrals)
	assert.Equal(t, 3, p.Stats.SlotsLimit)

	var cycleID int64
	require.NoError(t, store.Update(ctx, func(tx repository.Tx) error {
		c := &partdomain.Participation{UserID: u.ID, Status: partdomain.StatusConfirmed, AmountCents: 1500, ValidUntil: time.Now()}
		if err := tx.Participations().Create(ctx, c); err != nil {
			return err
		}
		cycleID = c.ID
		tgID := int64(222)
		ref := &domain.User{TelegramID: &tgID}
		if err := tx.Users().Create(ctx, ref); err != nil {
			return err
		}
		return tx.Participations().Create(ctx, &partdomain.Participation{
			UserID: ref.ID, ReferrerParticipationID: &cycleID, Status: partdomain.StatusPending,
			AmountCents: 1500, ValidUntil: time.Now(),
		})
	}))

	p, err = s.Profile(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, p.Participation)
	assert.Equal(t, cycleID, p.Participation.ID)
	assert.Equal(t, 1, p.Stats.SlotsUsed)
	assert.Equal(t, 0, p.Stats.ConfirmedL1)
	require.Len(t, p.Referrals, 1)
	assert.Equal(t, int64(222), *p.Referrals[0].TelegramID)

	_, err = s.Profile(ctx, 999)
	assert.Equal(t, apperrors.CodeUserNotFound, code(err))
}

func TestProfile_IncludesPendingIntent(t *testing.T) {
	ctx := context.Background()
	s, store := newService(t)
	parts := participation.NewService(store, participation.Config{
		ReceiverWallet: "UQReceiver",
		JettonDecimals: 6,
		TicketCents:    1500,
		IntentTTL:      15 * time.Minute,
		CommentPrefix:  "Soulpull",
	}, nil, nil, zerolog.Nop())
	s.SetIntents(parts)

	u, err := s.Register(ctx, 111, "alice")
	require.NoError(t, err)
	in, err := parts.CreateIntent(ctx, u.ID, participation.IntentRequest{})
	require.NoError(t, err)

	p, err := s.Profile(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, p.Intent)
	assert.Equal(t, in.ParticipationID, p.Intent.ParticipationID)
	assert.Equal(t, in.Comment, p.Intent.Comment)
	assert.Equal(t, "UQReceiver", p.Intent.ReceiverWallet)

	_, err = parts.AdminDecide(ctx, in.ParticipationID, "confirm", "", "admin")
	require.NoError(t, err)
	p, err = s.Profile(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, p.Intent)
}
