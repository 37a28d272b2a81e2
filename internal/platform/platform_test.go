package platform

import (
	"context"
	"errors"
	"testing"
)

type memSettings map[string]string

func (m memSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memSettings) SetSetting(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

type countingPrompter struct {
	answer bool
	calls  int
}

func (p *countingPrompter) AskPermission(context.Context) (bool, error) {
	p.calls++
	return p.answer, nil
}

func TestRequestWithoutPrompterStaysUndecided(t *testing.T) {
	ctx := context.Background()
	p := NewSettingsPermissions(memSettings{}, nil)

	granted, err := p.Request(ctx)
	if err != nil || granted {
		t.Fatalf("Request = %v, %v; want false, nil", granted, err)
	}
	perm, _ := p.Query(ctx)
	if perm != PermissionPrompt {
		t.Errorf("Query = %q, want prompt", perm)
	}
}

func TestRequestStoresPrompterAnswer(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		answer bool
		want   Permission
	}{
		{true, PermissionGranted},
		{false, PermissionDenied},
	}

	for _, tt := range tests {
		prompter := &countingPrompter{answer: tt.answer}
		p := NewSettingsPermissions(memSettings{}, prompter)

		granted, err := p.Request(ctx)
		if err != nil {
			t.Fatalf("Request: %v", err)
		}
		if granted != tt.answer {
			t.Errorf("Request = %v, want %v", granted, tt.answer)
		}
		if perm, _ := p.Query(ctx); perm != tt.want {
			t.Errorf("Query = %q, want %q", perm, tt.want)
		}

		// decided state is not prompted again
		p.Request(ctx)
		if prompter.calls != 1 {
			t.Errorf("prompter called %d times, want 1", prompter.calls)
		}
	}
}

func TestGrantAndRevoke(t *testing.T) {
	ctx := context.Background()
	p := NewSettingsPermissions(memSettings{}, StaticPrompter(false))

	if err := p.Grant(ctx); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if ok, _ := p.Request(ctx); !ok {
		t.Error("Request after Grant = false")
	}
	if err := p.Revoke(ctx); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if ok, _ := p.Request(ctx); ok {
		t.Error("Request after Revoke = true")
	}
}

type failingPresenter struct{ calls int }

func (f *failingPresenter) Present(context.Context, Alert) error {
	f.calls++
	return errors.New("boom")
}

type recordingPresenter struct{ alerts []Alert }

func (r *recordingPresenter) Present(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func TestMultiPresenterContinuesAfterFailure(t *testing.T) {
	bad := &failingPresenter{}
	good := &recordingPresenter{}

	err := MultiPresenter{bad, good}.Present(context.Background(), Alert{Title: "t", Tag: "x"})
	if err == nil {
		t.Error("expected joined error")
	}
	if bad.calls != 1 || len(good.alerts) != 1 {
		t.Errorf("calls: bad=%d good=%d", bad.calls, len(good.alerts))
	}
}
