package participation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	domain "github.com/open-builders/soulpull-backend/internal/domain/participation"
	"github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/repository/memory"
	"github.com/open-builders/soulpull-backend/internal/service/events"
)

type fixture struct {
	t      *testing.T
	store  *memory.Store
	svc    *Service
	events *events.Recorder
}

func testConfig() Config {
	return Config{
		ReceiverWallet:     "UQReceiver",
		JettonMaster:       "EQJetton",
		JettonDecimals:     6,
		TicketCents:        1500,
		ForwardTonNanotons: 50000000,
		IntentTTL:          15 * time.Minute,
		ReferralPoints:     1,
		AuthorPoints:       2,
		CommentPrefix:      "Soulpull",
	}
}

func newFixture(t *testing.T, chain PaymentChecker) *fixture {
	store := memory.NewStore()
	rec := &events.Recorder{}
	return &fixture{
		t:      t,
		store:  store,
		svc:    NewService(store, testConfig(), chain, rec, zerolog.Nop()),
		events: rec,
	}
}

func (f *fixture) user(tg int64) *user.User {
	f.t.Helper()
	u := &user.User{}
	if tg != 0 {
		u.TelegramID = &tg
	}
	require.NoError(f.t, f.store.Update(context.Background(), func(tx repository.Tx) error {
		return tx.Users().Create(context.Background(), u)
	}))
	return u
}

func (f *fixture) load(userID int64) *user.User {
	f.t.Helper()
	var u *user.User
	require.NoError(f.t, f.store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		u, err = tx.Users().GetByID(context.Background(), userID)
		return err
	}))
	return u
}

// confirmed registers tg, runs an intent with the given referrer and has an
// admin confirm it.
func (f *fixture) confirmed(tg int64, referrer *int64) *user.User {
	f.t.Helper()
	u := f.user(tg)
	in, err := f.svc.CreateIntent(context.Background(), u.ID, IntentRequest{ReferrerTelegramID: referrer})
	require.NoError(f.t, err)
	_, err = f.svc.AdminDecide(context.Background(), in.ParticipationID, "confirm", fmt.Sprintf("tx-%d", tg), "admin")
	require.NoError(f.t, err)
	return u
}

func (f *fixture) participation(id int64) *domain.Participation {
	f.t.Helper()
	var p *domain.Participation
	require.NoError(f.t, f.store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		p, err = tx.Participations().GetByID(context.Background(), id)
		return err
	}))
	require.NotNil(f.t, p)
	return p
}

func (f *fixture) authorCode(code string, ownerID int64, active bool) {
	f.t.Helper()
	require.NoError(f.t, f.store.Update(context.Background(), func(tx repository.Tx) error {
		ac := &user.AuthorCode{Code: code, OwnerUserID: ownerID, Active: true}
		if err := tx.AuthorCodes().Create(context.Background(), ac); err != nil {
			return err
		}
		if !active {
			_, err := tx.AuthorCodes().SetActive(context.Background(), code, false)
			return err
		}
		return nil
	}))
}

func i64(v int64) *int64 { return &v }

func codeOf(err error) string { return apperrors.CodeOf(err) }

func TestScenarioA_NoReferrer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	u := f.user(111)

	in, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Soulpull:1", in.Comment)
	assert.Equal(t, "15000000", in.JettonAmount)
	assert.Equal(t, "15.00", in.Amount)
	assert.Equal(t, "UQReceiver", in.ReceiverWallet)
	assert.Equal(t, int64(50000000), in.ForwardTonNanotons)
	assert.Equal(t, 0, in.SlotsUsed)
	assert.Equal(t, 3, in.SlotsLimit)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), in.ValidUntil, 5*time.Second)

	e, err := f.svc.ComputeEligibility(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, e.ParticipationStatus)

	p, err := f.svc.AdminDecide(ctx, in.ParticipationID, "confirm", "abc", "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, p.Status)
	require.NotNil(t, p.TxHash)
	assert.Equal(t, "abc", *p.TxHash)

	e, err = f.svc.ComputeEligibility(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, e.ConfirmedL1)
	assert.False(t, e.EligiblePayout)
	assert.Equal(t, domain.StatusConfirmed, e.ParticipationStatus)

	assert.Equal(t, []events.Type{events.ParticipationCreated, events.ParticipationDecided}, f.events.Types())
}

func TestScenarioB_ReferrerLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	r := f.confirmed(500, nil)

	for _, tg := range []int64{501, 502, 503} {
		f.confirmed(tg, i64(500))
	}

	d := f.user(504)
	_, err := f.svc.CreateIntent(ctx, d.ID, IntentRequest{ReferrerTelegramID: i64(500)})
	assert.Equal(t, apperrors.CodeReferrerLimit, codeOf(err))

	e, err := f.svc.ComputeEligibility(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, e.ConfirmedL1)
	assert.Equal(t, 3, e.SlotsUsed)
	assert.True(t, e.EligiblePayout)

	assert.Equal(t, int64(3), f.load(r.ID).Points)
	assert.Contains(t, f.events.Types(), events.RiskDetected)
}

func TestCreateIntent_PendingReferralsHoldSlotsAndRejectionFreesThem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.confirmed(500, nil)

	var last *PaymentIntent
	for i, tg := range []int64{501, 502, 503} {
		u := f.user(tg)
		in, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{ReferrerTelegramID: i64(500)})
		require.NoError(t, err)
		assert.Equal(t, i+1, in.SlotsUsed)
		last = in
	}

	d := f.user(504)
	_, err := f.svc.CreateIntent(ctx, d.ID, IntentRequest{ReferrerTelegramID: i64(500)})
	assert.Equal(t, apperrors.CodeReferrerLimit, codeOf(err))

	_, err = f.svc.AdminDecide(ctx, last.ParticipationID, "reject", "", "admin")
	require.NoError(t, err)

	in, err := f.svc.CreateIntent(ctx, d.ID, IntentRequest{ReferrerTelegramID: i64(500)})
	require.NoError(t, err)
	assert.Equal(t, 3, in.SlotsUsed)
}

func TestCreateIntent_Rules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.confirmed(500, nil)
	pendingRef := f.user(600)
	_, err := f.svc.CreateIntent(ctx, pendingRef.ID, IntentRequest{})
	require.NoError(t, err)

	u := f.user(111)
	cases := []struct {
		name     string
		referrer int64
		code     string
	}{
		{"self referral", 111, apperrors.CodeSelfReferral},
		{"unknown referrer", 999, apperrors.CodeReferrerNotFound},
		{"referrer not confirmed", 600, apperrors.CodeReferrerNotConfirmed},
	}
	for _, tc := range cases {
		_, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{ReferrerTelegramID: i64(tc.referrer)})
		assert.Equal(t, tc.code, codeOf(err), tc.name)
	}

	_, err = f.svc.CreateIntent(ctx, u.ID, IntentRequest{AuthorCode: "bad code!"})
	assert.Equal(t, apperrors.CodeInvalidAuthorCode, codeOf(err))

	noTG := f.user(0)
	_, err = f.svc.CreateIntent(ctx, noTG.ID, IntentRequest{})
	assert.Equal(t, apperrors.CodeTelegramNotLinked, codeOf(err))

	_, err = f.svc.CreateIntent(ctx, 4242, IntentRequest{})
	assert.Equal(t, apperrors.CodeUserNotFound, codeOf(err))
}

func TestCreateIntent_ReturnsPendingIntent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.confirmed(500, nil)
	u := f.user(111)

	first, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{ReferrerTelegramID: i64(500)})
	require.NoError(t, err)
	assert.False(t, first.Existing)

	again, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{})
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Equal(t, first.ParticipationID, again.ParticipationID)
	assert.Equal(t, first.Comment, again.Comment)
	assert.True(t, first.ValidUntil.Equal(again.ValidUntil))
	assert.Equal(t, first.ReferrerTelegramID, again.ReferrerTelegramID)
	assert.Equal(t, 1, again.SlotsUsed)

	created := 0
	for _, typ := range f.events.Types() {
		if typ == events.ParticipationCreated {
			created++
		}
	}
	// 500's own cycle plus one for 111
	assert.Equal(t, 2, created)

	_, err = f.svc.AdminDecide(ctx, first.ParticipationID, "reject", "", "admin")
	require.NoError(t, err)

	second, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ParticipationID, second.ParticipationID)
	assert.False(t, second.Existing)
}

func TestCreateIntent_ConfirmedCycleIsActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	u := f.confirmed(111, nil)

	_, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{})
	assert.Equal(t, apperrors.CodeActiveCycle, codeOf(err))
}

func TestCreateIntent_ReferrerMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.confirmed(500, nil)
	f.confirmed(501, nil)

	u := f.user(111)
	require.NoError(t, f.store.Update(ctx, func(tx repository.Tx) error {
		u.InviterTelegramID = i64(500)
		return tx.Users().Update(ctx, u)
	}))

	_, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{ReferrerTelegramID: i64(501)})
	assert.Equal(t, apperrors.CodeReferrerMismatch, codeOf(err))
	assert.Contains(t, f.events.Types(), events.RiskDetected)

	in, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{ReferrerTelegramID: i64(500)})
	require.NoError(t, err)
	require.NotNil(t, in.ReferrerTelegramID)
	assert.Equal(t, int64(500), *in.ReferrerTelegramID)

	// without an applied inviter the request names the referrer
	v := f.user(222)
	in, err = f.svc.CreateIntent(ctx, v.ID, IntentRequest{ReferrerTelegramID: i64(501)})
	require.NoError(t, err)
	assert.Equal(t, int64(501), *in.ReferrerTelegramID)
}

// Slots belong to the referrer's cycle, not to the referrer: after a cycle
// closes the next one takes three more referrals.
func TestCreateIntent_SlotsArePerReferrerCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	r := f.confirmed(500, nil)
	for _, tg := range []int64{501, 502, 503} {
		f.confirmed(tg, i64(500))
	}

	require.NoError(t, f.store.Update(ctx, func(tx repository.Tx) error {
		cur, err := tx.Participations().Current(ctx, r.ID)
		if err != nil {
			return err
		}
		return tx.Participations().Close(ctx, cur.ID, time.Now())
	}))
	in, err := f.svc.CreateIntent(ctx, r.ID, IntentRequest{})
	require.NoError(t, err)
	_, err = f.svc.AdminDecide(ctx, in.ParticipationID, "confirm", "tx-500-2", "admin")
	require.NoError(t, err)

	for _, tg := range []int64{504, 505, 506} {
		f.confirmed(tg, i64(500))
	}
	_, err = f.svc.CreateIntent(ctx, f.user(507).ID, IntentRequest{ReferrerTelegramID: i64(500)})
	assert.Equal(t, apperrors.CodeReferrerLimit, codeOf(err))

	live := 0
	require.NoError(t, f.store.View(ctx, func(tx repository.Tx) error {
		for tg := int64(501); tg <= 506; tg++ {
			u, err := tx.Users().GetByTelegramID(ctx, tg)
			if err != nil {
				return err
			}
			p, err := tx.Participations().Current(ctx, u.ID)
			if err != nil {
				return err
			}
			if p != nil && p.ReferrerTelegramID != nil && *p.ReferrerTelegramID == 500 {
				live++
			}
		}
		return nil
	}))
	assert.Equal(t, 6, live)
	assert.Equal(t, int64(6), f.load(r.ID).Points)
}

func TestCreateIntent_ReferralCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.confirmed(100, nil)
	f.confirmed(200, i64(100))

	// a's first cycle is closed, the next one may not name its own referral
	require.NoError(t, f.store.Update(ctx, func(tx repository.Tx) error {
		cur, err := tx.Participations().Current(ctx, a.ID)
		if err != nil {
			return err
		}
		return tx.Participations().Close(ctx, cur.ID, time.Now())
	}))
	_, err := f.svc.CreateIntent(ctx, a.ID, IntentRequest{ReferrerTelegramID: i64(200)})
	assert.Equal(t, apperrors.CodeReferralCycle, codeOf(err))
}

func TestCreateIntent_DefaultsFromProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	owner := f.confirmed(500, nil)
	f.authorCode("AUTHOR_1", owner.ID, true)

	u := f.user(111)
	require.NoError(t, f.store.Update(ctx, func(tx repository.Tx) error {
		u.InviterTelegramID = i64(500)
		code := "AUTHOR_1"
		u.AuthorCode = &code
		return tx.Users().Update(ctx, u)
	}))

	in, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{})
	require.NoError(t, err)
	require.NotNil(t, in.ReferrerTelegramID)
	assert.Equal(t, int64(500), *in.ReferrerTelegramID)
	assert.Equal(t, 1, in.SlotsUsed)

	p := f.participation(in.ParticipationID)
	require.NotNil(t, p.AuthorCode)
	assert.Equal(t, "AUTHOR_1", *p.AuthorCode)
}

func TestCreateIntent_AuthorCodeRegistry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	owner := f.user(700)
	f.authorCode("SOUL_7", owner.ID, true)
	f.authorCode("OLD_7", owner.ID, false)

	u := f.user(111)
	cases := []struct {
		code string
		want string
	}{
		{"NOPE_1", apperrors.CodeAuthorCodeNotFound},
		{"OLD_7", apperrors.CodeAuthorCodeNotFound},
	}
	for _, tc := range cases {
		_, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{AuthorCode: tc.code})
		assert.Equal(t, tc.want, codeOf(err), tc.code)
	}

	_, err := f.svc.CreateIntent(ctx, owner.ID, IntentRequest{AuthorCode: "SOUL_7"})
	assert.Equal(t, apperrors.CodeOwnAuthorCode, codeOf(err))

	in, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{AuthorCode: " SOUL_7 "})
	require.NoError(t, err)
	p := f.participation(in.ParticipationID)
	require.NotNil(t, p.AuthorCode)
	assert.Equal(t, "SOUL_7", *p.AuthorCode)

	// a remembered code that was deactivated since is dropped, not an error
	v := f.user(222)
	require.NoError(t, f.store.Update(ctx, func(tx repository.Tx) error {
		code := "OLD_7"
		v.AuthorCode = &code
		return tx.Users().Update(ctx, v)
	}))
	in, err = f.svc.CreateIntent(ctx, v.ID, IntentRequest{})
	require.NoError(t, err)
	assert.Nil(t, f.participation(in.ParticipationID).AuthorCode)
}

func TestCreateIntent_ConcurrentLastSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	r := f.confirmed(500, nil)
	f.confirmed(501, i64(500))
	f.confirmed(502, i64(500))

	const racers = 20
	users := make([]*user.User, racers)
	for i := range users {
		users[i] = f.user(int64(1000 + i))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		limited int
	)
	for _, u := range users {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.svc.CreateIntent(ctx, id, IntentRequest{ReferrerTelegramID: i64(500)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case codeOf(err) == apperrors.CodeReferrerLimit:
				limited++
			}
		}(u.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, racers-1, limited)

	e, err := f.svc.ComputeEligibility(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, e.SlotsUsed)
}

func TestCreateIntent_ConcurrentSameUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	u := f.user(111)

	var wg sync.WaitGroup
	intents := make([]*PaymentIntent, 10)
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			intents[i], errs[i] = f.svc.CreateIntent(ctx, u.ID, IntentRequest{})
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i, err := range errs {
		require.NoError(t, err)
		assert.Equal(t, intents[0].ParticipationID, intents[i].ParticipationID)
		if !intents[i].Existing {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
}

type fakeChain struct {
	match *Match
	err   error
	calls []string
	units *big.Int
}

func (c *fakeChain) FindPayment(_ context.Context, comment string, minUnits *big.Int) (*Match, error) {
	c.calls = append(c.calls, comment)
	c.units = minUnits
	return c.match, c.err
}

func TestConfirmPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	u := f.user(111)

	_, err := f.svc.ConfirmPayment(ctx, u.ID, "hash-1")
	assert.Equal(t, apperrors.CodeNoPendingParticipation, codeOf(err))

	_, err = f.svc.CreateIntent(ctx, u.ID, IntentRequest{})
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, u.ID, "   ")
	assert.Equal(t, apperrors.CodeInvalidTxHash, codeOf(err))

	p, err := f.svc.ConfirmPayment(ctx, u.ID, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, p.Status)
	assert.False(t, p.ChainVerified)

	again, err := f.svc.ConfirmPayment(ctx, u.ID, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	_, err = f.svc.ConfirmPayment(ctx, u.ID, "hash-2")
	assert.Equal(t, apperrors.CodeTxAlreadySubmitted, codeOf(err))

	other := f.user(222)
	_, err = f.svc.CreateIntent(ctx, other.ID, IntentRequest{})
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, other.ID, "hash-1")
	assert.Equal(t, apperrors.CodeDuplicateTx, codeOf(err))

	submitted := 0
	for _, typ := range f.events.Types() {
		if typ == events.PaymentSubmitted {
			submitted++
		}
	}
	assert.Equal(t, 1, submitted)
}

func TestConfirmPayment_ChainCheck(t *testing.T) {
	ctx := context.Background()
	chain := &fakeChain{match: &Match{TxHash: "aa11realhash", Sender: "EQSender"}}
	f := newFixture(t, chain)
	u := f.user(111)
	in, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{})
	require.NoError(t, err)

	p, err := f.svc.ConfirmPayment(ctx, u.ID, "userSubmittedHash")
	require.NoError(t, err)
	assert.True(t, p.ChainVerified)
	assert.Equal(t, []string{in.Comment}, chain.calls)
	assert.Equal(t, "15000000", chain.units.String())

	// the matched transfer is kept apart from the hash the user submitted
	stored := f.participation(in.ParticipationID)
	require.NotNil(t, stored.TxHash)
	assert.Equal(t, "userSubmittedHash", *stored.TxHash)
	require.NotNil(t, stored.ChainTxHash)
	assert.Equal(t, "aa11realhash", *stored.ChainTxHash)
	require.NotNil(t, stored.ChainSender)
	assert.Equal(t, "EQSender", *stored.ChainSender)
	assert.True(t, stored.ChainVerified)

	failing := &fakeChain{err: errors.New("liteserver timeout")}
	f2 := newFixture(t, failing)
	u2 := f2.user(111)
	in2, err := f2.svc.CreateIntent(ctx, u2.ID, IntentRequest{})
	require.NoError(t, err)
	p, err = f2.svc.ConfirmPayment(ctx, u2.ID, "hash-1")
	require.NoError(t, err)
	assert.False(t, p.ChainVerified)
	assert.Nil(t, f2.participation(in2.ParticipationID).ChainTxHash)
}

func TestAdminDecide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	u := f.user(111)
	in, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{})
	require.NoError(t, err)

	_, err = f.svc.AdminDecide(ctx, in.ParticipationID, "maybe", "", "admin")
	assert.Equal(t, apperrors.CodeInvalidDecision, codeOf(err))

	_, err = f.svc.AdminDecide(ctx, 999, "confirm", "", "admin")
	assert.Equal(t, apperrors.CodeParticipationNotFound, codeOf(err))

	p, err := f.svc.AdminDecide(ctx, in.ParticipationID, "reject", "", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, p.Status)
	require.NotNil(t, p.DecidedBy)
	assert.Equal(t, "alice", *p.DecidedBy)

	_, err = f.svc.AdminDecide(ctx, in.ParticipationID, "confirm", "", "alice")
	assert.Equal(t, apperrors.CodeAlreadyDecided, codeOf(err))
}

func TestAdminDecide_CreditsReferrerAndAuthor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	ref := f.confirmed(500, nil)
	author := f.user(700)
	f.authorCode("SOUL_7", author.ID, true)

	u := f.user(111)
	in, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{ReferrerTelegramID: i64(500), AuthorCode: "SOUL_7"})
	require.NoError(t, err)

	// deactivation after the intent does not cancel the credit
	require.NoError(t, f.store.Update(ctx, func(tx repository.Tx) error {
		_, err := tx.AuthorCodes().SetActive(ctx, "SOUL_7", false)
		return err
	}))

	_, err = f.svc.AdminDecide(ctx, in.ParticipationID, "confirm", "", "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.load(ref.ID).Points)
	assert.Equal(t, int64(2), f.load(author.ID).Points)
	assert.Zero(t, f.load(u.ID).Points)

	// rejection credits nobody
	v := f.user(222)
	f.authorCode("SOUL_8", author.ID, true)
	in, err = f.svc.CreateIntent(ctx, v.ID, IntentRequest{AuthorCode: "SOUL_8"})
	require.NoError(t, err)
	_, err = f.svc.AdminDecide(ctx, in.ParticipationID, "reject", "", "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.load(author.ID).Points)
}

func TestAdminDecide_ConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.confirmed(500, nil)
	u := f.user(111)
	in, err := f.svc.CreateIntent(ctx, u.ID, IntentRequest{ReferrerTelegramID: i64(500)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.AdminDecide(ctx, in.ParticipationID, "confirm", "", "admin")
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.Equal(t, apperrors.CodeAlreadyDecided, codeOf(err))
		}
	}
	assert.Equal(t, 1, won)
}

func TestAdminDecide_DuplicateHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.user(111)
	b := f.user(222)
	ia, err := f.svc.CreateIntent(ctx, a.ID, IntentRequest{})
	require.NoError(t, err)
	ib, err := f.svc.CreateIntent(ctx, b.ID, IntentRequest{})
	require.NoError(t, err)

	_, err = f.svc.AdminDecide(ctx, ia.ParticipationID, "confirm", "same-hash", "admin")
	require.NoError(t, err)
	_, err = f.svc.AdminDecide(ctx, ib.ParticipationID, "confirm", "same-hash", "admin")
	assert.Equal(t, apperrors.CodeDuplicateTx, codeOf(err))
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.confirmed(500, nil)

	stale := f.user(111)
	_, err := f.svc.CreateIntent(ctx, stale.ID, IntentRequest{ReferrerTelegramID: i64(500)})
	require.NoError(t, err)
	paid := f.user(222)
	_, err = f.svc.CreateIntent(ctx, paid.ID, IntentRequest{ReferrerTelegramID: i64(500)})
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, paid.ID, "hash-paid")
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = f.svc.ExpireStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var p *domain.Participation
	require.NoError(t, f.store.View(ctx, func(tx repository.Tx) error {
		var err error
		p, err = tx.Participations().Current(ctx, stale.ID)
		return err
	}))
	assert.Nil(t, p)

	e, err := f.svc.ComputeEligibility(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, e.ParticipationStatus)
}

func TestRunExpiryDisabled(t *testing.T) {
	f := newFixture(t, nil)
	done := make(chan struct{})
	go func() {
		f.svc.RunExpiry(context.Background(), time.Millisecond, 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker should return immediately when grace is zero")
	}
}

func TestJettonUnits(t *testing.T) {
	assert.Equal(t, "15000000", JettonUnits(1500, 6).String())
	assert.Equal(t, "33000000", JettonUnits(3300, 6).String())
	assert.Equal(t, "15000000000000000000", JettonUnits(1500, 18).String())
	assert.Equal(t, "2", JettonUnits(150, 0).String())
}

func TestNormalizeTxHash(t *testing.T) {
	h, err := NormalizeTxHash("  abc  ")
	require.NoError(t, err)
	assert.Equal(t, "abc", h)

	for _, bad := range []string{"", "has space", "semi;colon", string(make([]byte, 200))} {
		_, err := NormalizeTxHash(bad)
		assert.Equal(t, apperrors.CodeInvalidTxHash, codeOf(err), bad)
	}
}
