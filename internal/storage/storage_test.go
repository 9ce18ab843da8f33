package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiroku-ai/kiroku/internal/model"
	"github.com/kiroku-ai/kiroku/internal/storage"
	"github.com/kiroku-ai/kiroku/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

// resetAll wipes every record between tests. Principals survive, which is
// fine: these tests never depend on principal state.
func resetAll(t *testing.T) {
	t.Helper()
	require.NoError(t, testDB.PurgeAll(context.Background()))
}

func mustCreatePlan(t *testing.T, desc string, deps ...string) model.Plan {
	t.Helper()
	p, err := testDB.CreatePlan(context.Background(), model.CreatePlanRequest{
		Title:        desc,
		Description:  desc,
		Dependencies: deps,
		AgentID:      "tester",
	})
	require.NoError(t, err)
	return p
}

func mustCreateThought(t *testing.T, content string, planID *string) model.Thought {
	t.Helper()
	th, err := testDB.CreateThought(context.Background(), model.CreateThoughtRequest{
		Content: content,
		PlanID:  planID,
		AgentID: "tester",
	})
	require.NoError(t, err)
	return th
}

func TestThoughtLifecycle(t *testing.T) {
	resetAll(t)
	ctx := context.Background()

	free := mustCreateThought(t, "free-floating observation", nil)
	assert.Nil(t, free.PlanID)

	plan := mustCreatePlan(t, "anchor plan")
	anchored := mustCreateThought(t, "anchored observation", &plan.ID)
	require.NotNil(t, anchored.PlanID)
	assert.Equal(t, plan.ID, *anchored.PlanID)

	got, err := testDB.GetThoughtByID(ctx, anchored.ID)
	require.NoError(t, err)
	assert.Equal(t, "anchored observation", got.Content)
	assert.Equal(t, "tester", got.AgentID)
	assert.Empty(t, got.PlanIDs)

	_, err = testDB.GetThoughtByID(ctx, "th_does-not-exist")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateThoughtUnknownPlanLeavesNoRow(t *testing.T) {
	resetAll(t)
	ctx := context.Background()

	bogus := "pl_no-such-plan"
	_, err := testDB.CreateThought(ctx, model.CreateThoughtRequest{
		Content: "should never land",
		PlanID:  &bogus,
		AgentID: "tester",
	})
	require.Error(t, err)

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{bogus}, verr.MissingIDs)

	// A failed reference check rolls the insert back.
	_, total, err := testDB.ListThoughts(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestBulkCreateThoughtsAtomic(t *testing.T) {
	resetAll(t)
	ctx := context.Background()

	t.Run("invalid item rejects whole batch", func(t *testing.T) {
		_, itemErrs, err := testDB.BulkCreateThoughts(ctx, []model.CreateThoughtRequest{
			{Content: "fine", AgentID: "tester"},
			{Content: "", AgentID: "tester"}, // invalid
			{Content: "also fine", AgentID: "tester"},
		})
		require.Error(t, err)
		require.Len(t, itemErrs, 1)
		assert.Equal(t, 1, itemErrs[0].Index)

		_, total, err := testDB.ListThoughts(ctx, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, total, "no partial writes from a rejected batch")
	})

	t.Run("unknown plan ref rejects whole batch", func(t *testing.T) {
		bogus := "pl_missing"
		_, itemErrs, err := testDB.BulkCreateThoughts(ctx, []model.CreateThoughtRequest{
			{Content: "fine", AgentID: "tester"},
			{Content: "bad ref", PlanID: &bogus, AgentID: "tester"},
		})
		require.Error(t, err)
		require.Len(t, itemErrs, 1)
		assert.Equal(t, 1, itemErrs[0].Index)
		assert.Contains(t, itemErrs[0].Message, bogus)

		_, total, err := testDB.ListThoughts(ctx, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, total)
	})

	t.Run("valid batch creates all", func(t *testing.T) {
		plan := mustCreatePlan(t, "bulk target")
		created, itemErrs, err := testDB.BulkCreateThoughts(ctx, []model.CreateThoughtRequest{
			{Content: "one", AgentID: "tester"},
			{Content: "two", PlanID: &plan.ID, AgentID: "tester"},
			{Content: "three", AgentID: "tester"},
		})
		require.NoError(t, err)
		assert.Empty(t, itemErrs)
		require.Len(t, created, 3)

		_, total, err := testDB.ListThoughts(ctx, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
	})
}

func TestPlanDependencies(t *testing.T) {
	resetAll(t)
	ctx := context.Background()

	a := mustCreatePlan(t, "plan a")
	b := mustCreatePlan(t, "plan b")
	c := mustCreatePlan(t, "plan c", b.ID, a.ID)

	got, err := testDB.GetPlanByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanStatusTodo, got.Status)
	// Dependency set is preserved regardless of submission order.
	assert.ElementsMatch(t, []string{a.ID, b.ID}, got.Dependencies)

	t.Run("unknown dependency rejects creation", func(t *testing.T) {
		_, err := testDB.CreatePlan(ctx, model.CreatePlanRequest{
			Description:  "dangling",
			Dependencies: []string{a.ID, "pl_ghost"},
			AgentID:      "tester",
		})
		require.Error(t, err)

		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"pl_ghost"}, verr.MissingIDs)

		_, total, err := testDB.ListPlans(ctx, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, total, "failed create leaves no plan row")
	})
}

func TestPlanStatusTransitions(t *testing.T) {
	resetAll(t)
	ctx := context.Background()

	plan := mustCreatePlan(t, "status plan")

	updated, err := testDB.UpdatePlanStatus(ctx, plan.ID, model.UpdatePlanStatusRequest{
		Status:  model.PlanStatusInProgress,
		AgentID: "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PlanStatusInProgress, updated.Status)

	updated, err = testDB.UpdatePlanStatus(ctx, plan.ID, model.UpdatePlanStatusRequest{
		Status:  model.PlanStatusDone,
		AgentID: "reviewer",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PlanStatusDone, updated.Status)

	events, err := testDB.ListPlanStatusEvents(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Newest first.
	assert.Equal(t, model.PlanStatusInProgress, events[0].OldStatus)
	assert.Equal(t, model.PlanStatusDone, events[0].NewStatus)
	assert.Equal(t, "reviewer", events[0].AgentID)
	assert.Equal(t, model.PlanStatusTodo, events[1].OldStatus)
	assert.Equal(t, model.PlanStatusInProgress, events[1].NewStatus)

	_, err = testDB.UpdatePlanStatus(ctx, "pl_ghost", model.UpdatePlanStatusRequest{
		Status: model.PlanStatusDone,
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = testDB.ListPlanStatusEvents(ctx, "pl_ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChangeCitations(t *testing.T) {
	resetAll(t)
	ctx := context.Background()

	plan := mustCreatePlan(t, "executed plan")
	th1 := mustCreateThought(t, "reason one", nil)
	th2 := mustCreateThought(t, "reason two", nil)

	change, err := testDB.CreateChange(ctx, model.CreateChangeRequest{
		Description: "did the thing",
		PlanID:      plan.ID,
		ThoughtIDs:  []string{th2.ID, th1.ID},
		AgentID:     "tester",
	})
	require.NoError(t, err)

	got, err := testDB.GetChangeByID(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.PlanID)
	assert.ElementsMatch(t, []string{th1.ID, th2.ID}, got.ThoughtIDs)

	t.Run("unknown thought citation rejects creation", func(t *testing.T) {
		_, err := testDB.CreateChange(ctx, model.CreateChangeRequest{
			Description: "bad citation",
			PlanID:      plan.ID,
			ThoughtIDs:  []string{th1.ID, "th_ghost"},
			AgentID:     "tester",
		})
		require.Error(t, err)

		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"th_ghost"}, verr.MissingIDs)

		_, total, err := testDB.ListChanges(ctx, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("unknown plan rejects creation", func(t *testing.T) {
		_, err := testDB.CreateChange(ctx, model.CreateChangeRequest{
			Description: "orphan change",
			PlanID:      "pl_ghost",
			AgentID:     "tester",
		})
		require.Error(t, err)

		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"pl_ghost"}, verr.MissingIDs)
	})
}

func TestAssociationIdempotency(t *testing.T) {
	resetAll(t)
	ctx := context.Background()

	plan := mustCreatePlan(t, "assoc plan")
	th := mustCreateThought(t, "assoc thought", nil)

	require.NoError(t, testDB.AssociateThoughtPlan(ctx, th.ID, plan.ID))
	// Second association of the same pair is a no-op success.
	require.NoError(t, testDB.AssociateThoughtPlan(ctx, th.ID, plan.ID))

	gotThought, err := testDB.GetThoughtByID(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{plan.ID}, gotThought.PlanIDs)

	gotPlan, err := testDB.GetPlanByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{th.ID}, gotPlan.ThoughtIDs)

	require.NoError(t, testDB.DisassociateThoughtPlan(ctx, th.ID, plan.ID))
	// Removing an absent association is also a no-op success.
	require.NoError(t, testDB.DisassociateThoughtPlan(ctx, th.ID, plan.ID))

	gotThought, err = testDB.GetThoughtByID(ctx, th.ID)
	require.NoError(t, err)
	assert.Empty(t, gotThought.PlanIDs)

	t.Run("both sides must exist", func(t *testing.T) {
		assert.ErrorIs(t, testDB.AssociateThoughtPlan(ctx, "th_ghost", plan.ID), storage.ErrNotFound)
		assert.ErrorIs(t, testDB.AssociateThoughtPlan(ctx, th.ID, "pl_ghost"), storage.ErrNotFound)
		assert.ErrorIs(t, testDB.DisassociateThoughtPlan(ctx, "th_ghost", plan.ID), storage.ErrNotFound)
	})
}

func TestCursorPaginationPartitionsListing(t *testing.T) {
	resetAll(t)
	ctx := context.Background()

	const n = 25
	want := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		th := mustCreateThought(t, fmt.Sprintf("thought %02d", i), nil)
		want[th.ID] = true
	}

	seen := make(map[string]bool)
	var cursor string
	pages := 0
	for {
		page, next, err := testDB.ListThoughtsCursor(ctx, 10, cursor)
		require.NoError(t, err)
		pages++

		for _, th := range page {
			assert.False(t, seen[th.ID], "no id may appear on two pages")
			seen[th.ID] = true
		}

		// An insert between pages must not disturb already-issued cursors:
		// the new row is newer than every page-1 entry, so it belongs
		// before the cursor position and never shows up mid-walk.
		if pages == 1 {
			mustCreateThought(t, "interleaved insert", nil)
		}

		if next == nil {
			break
		}
		cursor = *next
		require.Less(t, pages, 10, "cursor walk must terminate")
	}

	assert.Equal(t, want, seen, "pages must partition the original rows exactly")
}

func TestCursorFullPageBoundary(t *testing.T) {
	resetAll(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		mustCreateThought(t, fmt.Sprintf("row %d", i), nil)
	}

	// Exactly one full page: a next cursor is offered, and following it
	// yields an empty terminal page.
	page, next, err := testDB.ListThoughtsCursor(ctx, 10, "")
	require.NoError(t, err)
	assert.Len(t, page, 10)
	require.NotNil(t, next)

	tail, tailNext, err := testDB.ListThoughtsCursor(ctx, 10, *next)
	require.NoError(t, err)
	assert.Empty(t, tail)
	assert.Nil(t, tailNext)
}

func TestListOffsetPagination(t *testing.T) {
	resetAll(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		mustCreatePlan(t, fmt.Sprintf("plan %d", i))
	}

	first, total, err := testDB.ListPlans(ctx, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Len(t, first, 5)

	rest, total, err := testDB.ListPlans(ctx, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Len(t, rest, 2)
}

func TestPrincipalsAndKeys(t *testing.T) {
	resetAll(t)
	ctx := context.Background()

	p, k, err := testDB.CreatePrincipalWithKey(ctx,
		model.Principal{AgentID: "worker-1", DisplayName: "Worker One", Role: model.RoleAgent},
		model.APIKey{KeyHash: "argon2id-hash", Label: "initial"},
	)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", k.AgentID)

	got, err := testDB.GetPrincipalByAgentID(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, model.RoleAgent, got.Role)

	_, err = testDB.GetPrincipalByAgentID(ctx, "worker-none")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	t.Run("duplicate agent id conflicts", func(t *testing.T) {
		_, _, err := testDB.CreatePrincipalWithKey(ctx,
			model.Principal{AgentID: "worker-1", Role: model.RoleAgent},
			model.APIKey{KeyHash: "other-hash", Label: "dup"},
		)
		assert.ErrorIs(t, err, storage.ErrConflict)
	})

	t.Run("revocation hides the key", func(t *testing.T) {
		keys, err := testDB.GetActiveAPIKeysByAgentID(ctx, "worker-1")
		require.NoError(t, err)
		require.Len(t, keys, 1)

		require.NoError(t, testDB.RevokeAPIKey(ctx, keys[0].ID))
		assert.ErrorIs(t, testDB.RevokeAPIKey(ctx, keys[0].ID), storage.ErrNotFound)

		keys, err = testDB.GetActiveAPIKeysByAgentID(ctx, "worker-1")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	list, err := testDB.ListPrincipals(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, list)
}

func TestPurgeAll(t *testing.T) {
	resetAll(t)
	ctx := context.Background()

	plan := mustCreatePlan(t, "purged plan")
	th := mustCreateThought(t, "purged thought", &plan.ID)
	require.NoError(t, testDB.AssociateThoughtPlan(ctx, th.ID, plan.ID))
	_, err := testDB.CreateChange(ctx, model.CreateChangeRequest{
		Description: "purged change",
		PlanID:      plan.ID,
		AgentID:     "tester",
	})
	require.NoError(t, err)

	require.NoError(t, testDB.PurgeAll(ctx))

	_, total, err := testDB.ListThoughts(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	_, total, err = testDB.ListPlans(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	_, total, err = testDB.ListChanges(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}
