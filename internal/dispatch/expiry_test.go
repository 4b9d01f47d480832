package dispatch

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestExpiryReaper_SweepOnce_ExpiresDueOffer(t *testing.T) {
	m, mock := newTestManager(t)
	reaper := NewExpiryReaper(m, 0)

	offerID := uuid.New()
	riderID := uuid.New()

	mock.Regexp().ExpectZRangeByScore(offerExpiryZSetKey).SetVal([]string{offerID.String()})
	mock.ExpectHGetAll(offerKey(offerID.String())).SetVal(map[string]string{
		"rider_id":   riderID.String(),
		"state":      "OPEN",
		"created_at": "1700000000",
		"expires_at": "1700000015",
	})
	mock.ExpectSMembers(recipientsKey(offerID.String())).SetVal([]string{})
	mock.Regexp().ExpectEvalSha(".*", []string{offerKey(offerID.String())}).SetVal(int64(1))
	mock.ExpectZRem(offerExpiryZSetKey, offerID.String()).SetVal(1)

	reaper.sweepOnce(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpiryReaper_SweepOnce_NoDueOffers(t *testing.T) {
	m, mock := newTestManager(t)
	reaper := NewExpiryReaper(m, 0)

	mock.Regexp().ExpectZRangeByScore(offerExpiryZSetKey).SetVal([]string{})

	reaper.sweepOnce(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpiryReaper_StartStop(t *testing.T) {
	m, _ := newTestManager(t)
	reaper := NewExpiryReaper(m, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Start(ctx)
		close(done)
	}()
	cancel()
	<-done
}
