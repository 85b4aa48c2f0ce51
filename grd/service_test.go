package grd_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/grd-engine/generic"
	"github.com/warp/grd-engine/grd"
	"github.com/warp/grd-engine/grd/store"
)

var serviceNow = time.Date(2024, time.September, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*grd.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := grd.NewService(mem, grd.StandardDefaults(), zerolog.Nop())
	svc.Now = func() time.Time { return serviceNow }

	_, err := svc.ImportCatalog(context.Background(), grd.Catalog{
		Rules:  []grd.GrdRule{*outlierRule()},
		Prices: fonasaPrices()[:1],
	})
	require.NoError(t, err)
	return svc, mem
}

func TestService_CreateAndGet(t *testing.T) {
	// GIVEN: A catalog without a T2 price
	svc, _ := newTestService(t)
	ctx := context.Background()

	// WHEN: A T2 episode is created
	view, err := svc.CreateEpisode(ctx, outlierEpisode())
	require.NoError(t, err)

	// THEN: It is stored at version 1 with no base price
	assert.Equal(t, 1, view.Episode.Version)
	assert.Nil(t, view.Episode.Calculated.BasePrice)
	assert.Equal(t, grd.OutlierSuperior, view.Episode.Calculated.Classification)
	assert.Contains(t, warningCodes(view.Result.Warnings), grd.ReasonNoPriceEntry)
	assert.Equal(t, serviceNow, view.Episode.CreatedAt)

	got, err := svc.GetEpisode(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Episode.Version, "nothing moved, nothing written")
}

func TestService_CreateAssignsID(t *testing.T) {
	svc, _ := newTestService(t)
	ep := outlierEpisode()
	ep.ID = ""
	ep.Validation = ""

	view, err := svc.CreateEpisode(context.Background(), ep)

	require.NoError(t, err)
	assert.NotEmpty(t, view.Episode.ID)
	assert.Equal(t, grd.ValidationPending, view.Episode.Validation)
}

func TestService_RefreshOnReadAfterPriceInsert(t *testing.T) {
	// GIVEN: An episode created before its tier had a price
	svc, mem := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateEpisode(ctx, outlierEpisode())
	require.NoError(t, err)

	// WHEN: A T2 price is inserted and the episode is read
	_, err = svc.AddPriceEntry(ctx, tierPrice("", "fns012", "T2", "100000", time.Time{}))
	require.NoError(t, err)
	view, err := svc.GetEpisode(ctx, "ep-1")
	require.NoError(t, err)

	// THEN: Every derived field is refreshed and persisted
	assertDecimal(t, "200000", view.Episode.Calculated.GroupValue)
	assertDecimal(t, "125000", view.Episode.Calculated.OutlierPayment)
	assertDecimal(t, "325000", view.Episode.Calculated.FinalAmount)
	assert.Equal(t, 2, view.Episode.Version)

	stored, err := mem.GetEpisode(ctx, "ep-1")
	require.NoError(t, err)
	assertDecimal(t, "325000", stored.Calculated.FinalAmount)
	assert.Equal(t, 2, stored.Version)

	// AND: A second read writes nothing
	again, err := svc.GetEpisode(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Episode.Version)
	assert.True(t, again.Result.Patch.IsEmpty())
}

func TestService_ConcurrentReadsWriteOnce(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateEpisode(ctx, outlierEpisode())
	require.NoError(t, err)
	_, err = svc.AddPriceEntry(ctx, tierPrice("", grd.AgreementFNS012, "T2", "100000", time.Time{}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			view, err := svc.GetEpisode(ctx, "ep-1")
			if err != nil {
				errs <- err
				return
			}
			if !view.Episode.Calculated.FinalAmount.Equal(*dec("325000")) {
				errs <- errors.New("stale final amount " + view.Episode.Calculated.FinalAmount.String())
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	stored, err := mem.GetEpisode(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
}

func TestService_OverrideRejectedInsideNormalGroup(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	ep := outlierEpisode()
	ep.Overrides.FinalAmount = dec("999")
	_, err := svc.CreateEpisode(ctx, ep)

	var oe *generic.OverrideError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, []string{grd.FieldFinalAmount}, oe.Fields)
	_, err = mem.GetEpisode(ctx, "ep-1")
	assert.ErrorIs(t, err, generic.ErrEpisodeNotFound, "nothing stored")

	_, err = svc.CreateEpisode(ctx, outlierEpisode())
	require.NoError(t, err)
	_, err = svc.UpdateEpisode(ctx, "ep-1", grd.EpisodeUpdate{Overrides: &grd.Overrides{GroupValue: dec("1")}})
	assert.ErrorIs(t, err, generic.ErrOverrideNotAllowed)
}

func TestService_OverrideAcceptedOutsideNormalGroup(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateEpisode(ctx, outlierEpisode())
	require.NoError(t, err)

	outside := true
	view, err := svc.UpdateEpisode(ctx, "ep-1", grd.EpisodeUpdate{
		OutsideNormalGroup: &outside,
		Overrides:          &grd.Overrides{FinalAmount: dec("620000")},
	})

	require.NoError(t, err)
	assertDecimal(t, "620000", view.Episode.Calculated.FinalAmount)
	assert.Equal(t, 2, view.Episode.Version)
}

func TestService_UpdateRecomputesEveryField(t *testing.T) {
	// GIVEN: An FNS012 T1 episode
	svc, mem := newTestService(t)
	ctx := context.Background()
	ep := outlierEpisode()
	ep.GroupWeight = dec("1.0")
	_, err := svc.CreateEpisode(ctx, ep)
	require.NoError(t, err)

	// WHEN: Only the delay days are edited
	days := 2
	view, err := svc.UpdateEpisode(ctx, "ep-1", grd.EpisodeUpdate{DelayDays: &days})
	require.NoError(t, err)

	// THEN: The delay and the final amount moved together and were stored
	// 1.0 × 80000 / 8 × 2 = 20000; outlier 5 × 1.0 × 80000 / 8 = 50000
	assertDecimal(t, "20000", view.Episode.Calculated.DelayPayment)
	assertDecimal(t, "150000", view.Episode.Calculated.FinalAmount)
	assert.ElementsMatch(t, []string{grd.FieldDelayPayment, grd.FieldFinalAmount}, view.Result.Patch.Changed)

	stored, err := mem.GetEpisode(ctx, "ep-1")
	require.NoError(t, err)
	assertDecimal(t, "150000", stored.Calculated.FinalAmount)
	assert.Equal(t, 2, stored.DelayDays)
}

func TestService_UpdateVersionConflict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateEpisode(ctx, outlierEpisode())
	require.NoError(t, err)

	stale := 0
	days := 1
	_, err = svc.UpdateEpisode(ctx, "ep-1", grd.EpisodeUpdate{DelayDays: &days, ExpectedVersion: &stale})

	assert.True(t, generic.IsRetryable(err))
}

func TestService_UpdateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateEpisode(ctx, outlierEpisode())
	require.NoError(t, err)

	negative := -3
	_, err = svc.UpdateEpisode(ctx, "ep-1", grd.EpisodeUpdate{DelayDays: &negative})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = svc.UpdateEpisode(ctx, "missing", grd.EpisodeUpdate{})
	assert.True(t, generic.IsNotFound(err))

	view, err := svc.SetValidation(ctx, "ep-1", grd.ValidationApproved)
	require.NoError(t, err)
	assert.Equal(t, grd.ValidationApproved, view.Episode.Validation)
}

func TestService_ClearGrdCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateEpisode(ctx, outlierEpisode())
	require.NoError(t, err)

	view, err := svc.UpdateEpisode(ctx, "ep-1", grd.EpisodeUpdate{GrdCode: str("")})

	require.NoError(t, err)
	assert.Nil(t, view.Episode.GrdCode)
	assert.Equal(t, grd.Unclassified, view.Episode.Calculated.Classification)
}

func TestService_ClearNullableFields(t *testing.T) {
	// GIVEN: A CH0041 episode with no delay rate, paid by a manual delay value
	svc, _ := newTestService(t)
	ctx := context.Background()
	ep := outlierEpisode()
	ep.AgreementCode = grd.AgreementCH0041
	ep.DelayDays = 2
	ep.ManualDelayPayment = dec("42000")
	ep.ManualOutlierPayment = dec("9000")
	view, err := svc.CreateEpisode(ctx, ep)
	require.NoError(t, err)
	assertDecimal(t, "42000", view.Episode.Calculated.DelayPayment)

	// WHEN: The manual delay value and the weight are cleared
	view, err = svc.UpdateEpisode(ctx, "ep-1", grd.EpisodeUpdate{
		ClearManualDelayPayment: true,
		ClearGroupWeight:        true,
	})

	// THEN: They are gone, the delay drops to zero, untouched fields stay
	require.NoError(t, err)
	assert.Nil(t, view.Episode.ManualDelayPayment)
	assert.Nil(t, view.Episode.GroupWeight)
	require.NotNil(t, view.Episode.ManualOutlierPayment)
	assertDecimal(t, "9000", *view.Episode.ManualOutlierPayment)
	assertDecimal(t, "0", view.Episode.Calculated.DelayPayment)
	assert.Equal(t, 2, view.Episode.Version)
}

func TestEpisodeUpdate_ClearWinsOverValue(t *testing.T) {
	ep := outlierEpisode()

	got := grd.EpisodeUpdate{GroupWeight: dec("3.0"), ClearGroupWeight: true}.Apply(ep)

	assert.Nil(t, got.GroupWeight)
}

func TestService_RecalculateAll(t *testing.T) {
	// GIVEN: Three episodes, two of them in a tier that has no price yet
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, seed := range []struct {
		id     generic.EpisodeID
		weight string
	}{{"ep-1", "2.0"}, {"ep-2", "1.0"}, {"ep-3", "2.2"}} {
		ep := outlierEpisode()
		ep.ID = seed.id
		ep.GroupWeight = dec(seed.weight)
		_, err := svc.CreateEpisode(ctx, ep)
		require.NoError(t, err)
	}
	_, err := svc.AddPriceEntry(ctx, tierPrice("", grd.AgreementFNS012, "T2", "100000", time.Time{}))
	require.NoError(t, err)

	// WHEN: Everything is recalculated in parallel
	summary, err := svc.RecalculateAll(ctx, 2)
	require.NoError(t, err)

	// THEN: Only the T2 episodes were written
	assert.Equal(t, grd.RecalcSummary{Total: 3, Updated: 2, Unchanged: 1}, summary)

	// AND: A second run finds nothing to do
	summary, err = svc.RecalculateAll(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, grd.RecalcSummary{Total: 3, Unchanged: 3}, summary)
}

func TestService_ImportCatalogValidation(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	_, err := svc.ImportCatalog(ctx, grd.Catalog{
		Rules:  []grd.GrdRule{{Code: "051023"}},
		Prices: []grd.PriceEntry{tierPrice("bad", grd.AgreementFNS012, "T1", "-1", time.Time{})},
	})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = mem.GetGrdRule(ctx, "051023")
	assert.ErrorIs(t, err, generic.ErrGrdRuleNotFound, "a rejected import writes nothing")

	_, err = svc.ImportCatalog(ctx, grd.Catalog{Rules: []grd.GrdRule{{}}})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestService_AddPriceEntryStamps(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.AddPriceEntry(context.Background(), tierPrice("", " ch0041 ", "", "1500000", time.Time{}))

	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, serviceNow, p.CreatedAt)
	assert.Equal(t, grd.AgreementCH0041, p.AgreementCode)
}

func TestService_UpsertGrdRuleReclassifies(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateEpisode(ctx, outlierEpisode())
	require.NoError(t, err)

	rule := *outlierRule()
	rule.UpperCutoff = dec("30")
	_, err = svc.UpsertGrdRule(ctx, rule)
	require.NoError(t, err)

	view, err := svc.GetEpisode(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, grd.Inlier, view.Episode.Calculated.Classification)

	_, err = svc.UpsertGrdRule(ctx, grd.GrdRule{})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestService_Patients(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	p, err := svc.SavePatient(ctx, grd.Patient{Name: "Paciente Demo", DocumentID: "11.111.111-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	got, err := mem.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Paciente Demo", got.Name)
}

func TestService_DeleteEpisode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateEpisode(ctx, outlierEpisode())
	require.NoError(t, err)

	require.NoError(t, svc.DeleteEpisode(ctx, "ep-1"))
	assert.ErrorIs(t, svc.DeleteEpisode(ctx, "ep-1"), generic.ErrEpisodeNotFound)
}
