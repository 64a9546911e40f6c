package orchestrator

import (
	"context"
	"testing"

	"SettleFlow-Chain/internal/action"
	"SettleFlow-Chain/internal/auth"
	xerrors "SettleFlow-Chain/internal/errors"
	"SettleFlow-Chain/internal/job"
	"SettleFlow-Chain/internal/record"
	"SettleFlow-Chain/internal/settlement"
	"SettleFlow-Chain/internal/settlement/provider"
	"SettleFlow-Chain/internal/tools"
)

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	records := record.NewMemoryStore()
	jobs := job.NewMemoryStore()
	accounts, err := auth.NewService(records, auth.Config{Secret: "test"})
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}

	producers := make(map[job.Category]job.Producer)
	for _, category := range job.Categories() {
		queue := job.NewMemoryQueue(16)
		producers[category] = queue
		t.Cleanup(func() { _ = queue.Close() })
	}

	registry := provider.NewStaticRegistry("Base", map[string]settlement.Client{})
	handlers, err := tools.NewService(records, jobs, producers, accounts, registry)
	if err != nil {
		t.Fatalf("tools.NewService: %v", err)
	}
	orch, err := New(handlers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return orch
}

func TestDispatchSignupAndSignin(t *testing.T) {
	orch := newOrchestrator(t)
	ctx := context.Background()

	result, err := orch.Dispatch(ctx, &action.Action{
		Kind:   action.KindSignup,
		Signup: &action.Signup{Username: "alice", Password: "pw"},
	}, "")
	if err != nil {
		t.Fatalf("Dispatch signup: %v", err)
	}
	if result.Kind != action.KindSignup {
		t.Fatalf("kind = %s, want signup", result.Kind)
	}
	signup, ok := result.Data.(*tools.SignupResult)
	if !ok || signup.User == nil {
		t.Fatalf("unexpected data: %#v", result.Data)
	}

	signin, err := orch.Dispatch(ctx, &action.Action{
		Kind:   action.KindSignin,
		Signin: &action.Signin{Username: "alice", Password: "pw"},
	}, "")
	if err != nil {
		t.Fatalf("Dispatch signin: %v", err)
	}
	cred, ok := signin.Data.(*auth.Credential)
	if !ok || cred.AccessToken == "" {
		t.Fatalf("unexpected signin data: %#v", signin.Data)
	}
}

func TestDispatchUnknownKind(t *testing.T) {
	orch := newOrchestrator(t)
	_, err := orch.Dispatch(context.Background(), &action.Action{Kind: action.Kind("freeze_account")}, "")
	if xerrors.CodeOf(err) != xerrors.CodeUnknownAction {
		t.Fatalf("code = %v, want UNKNOWN_ACTION", xerrors.CodeOf(err))
	}
}

func TestDispatchPropagatesPrecondition(t *testing.T) {
	orch := newOrchestrator(t)
	_, err := orch.Dispatch(context.Background(), &action.Action{
		Kind:        action.KindCreateAlias,
		CreateAlias: &action.CreateAlias{Label: "mom", Address: "0xmom"},
	}, "")
	if xerrors.CodeOf(err) != xerrors.CodePrecondition {
		t.Fatalf("code = %v, want PRECONDITION", xerrors.CodeOf(err))
	}
}

func TestListSupportedActions(t *testing.T) {
	orch := newOrchestrator(t)
	names := orch.ListSupportedActions()
	if len(names) != len(action.Kinds()) {
		t.Fatalf("len = %d, want %d", len(names), len(action.Kinds()))
	}
	if names[0] != "signup" {
		t.Fatalf("first action = %s, want signup", names[0])
	}
}
