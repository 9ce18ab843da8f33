package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiroku-ai/kiroku/internal/model"
)

func validationField(t *testing.T, err error) string {
	t.Helper()
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	return verr.Field
}

func TestCreateThoughtRequestValidate(t *testing.T) {
	planID := "pl_x"

	valid := model.CreateThoughtRequest{Content: "the cache is cold on startup", PlanID: &planID}
	require.NoError(t, valid.Validate())

	err := model.CreateThoughtRequest{}.Validate()
	assert.Equal(t, "content", validationField(t, err))

	err = model.CreateThoughtRequest{Content: strings.Repeat("a", model.MaxContentLen+1)}.Validate()
	assert.Equal(t, "content", validationField(t, err))
}

func TestCreatePlanRequestValidate(t *testing.T) {
	valid := model.CreatePlanRequest{
		Title:        "warm the cache",
		Description:  "preload hot keys at startup",
		Status:       model.PlanStatusTodo,
		Dependencies: []string{"pl_a", "pl_b"},
	}
	require.NoError(t, valid.Validate())

	// Status is optional at validation time; storage defaults it.
	require.NoError(t, model.CreatePlanRequest{Description: "d"}.Validate())

	err := model.CreatePlanRequest{Title: "t"}.Validate()
	assert.Equal(t, "description", validationField(t, err))

	err = model.CreatePlanRequest{Description: "d", Status: "urgent"}.Validate()
	assert.Equal(t, "status", validationField(t, err))

	err = model.CreatePlanRequest{Description: "d", Dependencies: []string{""}}.Validate()
	assert.Equal(t, "dependencies", validationField(t, err))

	err = model.CreatePlanRequest{Description: "d", Dependencies: []string{"pl_a", "pl_a"}}.Validate()
	assert.Equal(t, "dependencies", validationField(t, err))
}

func TestUpdatePlanStatusRequestValidate(t *testing.T) {
	statuses := []model.PlanStatus{
		model.PlanStatusTodo,
		model.PlanStatusInProgress,
		model.PlanStatusBlocked,
		model.PlanStatusDone,
	}
	for _, s := range statuses {
		require.NoError(t, model.UpdatePlanStatusRequest{Status: s}.Validate())
	}

	err := model.UpdatePlanStatusRequest{}.Validate()
	assert.Equal(t, "status", validationField(t, err))

	err = model.UpdatePlanStatusRequest{Status: "finished"}.Validate()
	assert.Equal(t, "status", validationField(t, err))
}

func TestCreateChangeRequestValidate(t *testing.T) {
	valid := model.CreateChangeRequest{
		Description: "switched the pool to pgbouncer",
		PlanID:      "pl_a",
		ThoughtIDs:  []string{"th_a", "th_b"},
	}
	require.NoError(t, valid.Validate())

	err := model.CreateChangeRequest{PlanID: "pl_a"}.Validate()
	assert.Equal(t, "description", validationField(t, err))

	err = model.CreateChangeRequest{Description: "d"}.Validate()
	assert.Equal(t, "plan_id", validationField(t, err))

	err = model.CreateChangeRequest{Description: "d", PlanID: "pl_a", ThoughtIDs: []string{"th_a", "th_a"}}.Validate()
	assert.Equal(t, "thought_ids", validationField(t, err))
}

func TestValidateAgentID(t *testing.T) {
	for _, id := range []string{"claude", "agent-7", "svc_builder", "team.lead@corp", "A1"} {
		assert.NoError(t, model.ValidateAgentID(id), id)
	}

	assert.Error(t, model.ValidateAgentID(""))
	assert.Error(t, model.ValidateAgentID(strings.Repeat("a", 256)))
	assert.Error(t, model.ValidateAgentID("has space"))
	assert.Error(t, model.ValidateAgentID("sneaky:colon"))
	assert.Error(t, model.ValidateAgentID("日本語"))
}

func TestNewIDPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(model.NewThoughtID(), "th_"))
	assert.True(t, strings.HasPrefix(model.NewPlanID(), "pl_"))
	assert.True(t, strings.HasPrefix(model.NewChangeID(), "cl_"))

	// IDs are unique across calls.
	assert.NotEqual(t, model.NewThoughtID(), model.NewThoughtID())
}

func TestValidationErrorMessage(t *testing.T) {
	err := model.NewMissingIDsError("plan_id", []string{"pl_a", "pl_b"})
	assert.Contains(t, err.Error(), "plan_id")
	assert.Contains(t, err.Error(), "pl_a")
	assert.Contains(t, err.Error(), "pl_b")
	assert.Equal(t, []string{"pl_a", "pl_b"}, err.MissingIDs)
}
