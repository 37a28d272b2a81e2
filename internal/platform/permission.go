package platform

import (
	"context"
	"fmt"
	"sync"
)

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionPrompt  Permission = "prompt"
)

const permissionKey = "notification_permission"

type Permissions interface {
	Query(ctx context.Context) (Permission, error)
	Request(ctx context.Context) (bool, error)
}

// Prompter asks the user whether notifications may be shown.
type Prompter interface {
	AskPermission(ctx context.Context) (bool, error)
}

// StaticPrompter answers every prompt with the same value.
type StaticPrompter bool

func (p StaticPrompter) AskPermission(context.Context) (bool, error) {
	return bool(p), nil
}

type settingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// SettingsPermissions keeps the permission state in the settings table so a
// decision survives restarts.
type SettingsPermissions struct {
	store settingsStore

	mu       sync.Mutex
	prompter Prompter
}

func NewSettingsPermissions(store settingsStore, prompter Prompter) *SettingsPermissions {
	return &SettingsPermissions{store: store, prompter: prompter}
}

// SetPrompter replaces the prompter used for undecided requests.
func (p *SettingsPermissions) SetPrompter(prompter Prompter) {
	p.mu.Lock()
	p.prompter = prompter
	p.mu.Unlock()
}

func (p *SettingsPermissions) Query(ctx context.Context) (Permission, error) {
	v, ok, err := p.store.GetSetting(ctx, permissionKey)
	if err != nil {
		return "", fmt.Errorf("query permission: %w", err)
	}
	if !ok {
		return PermissionPrompt, nil
	}
	switch perm := Permission(v); perm {
	case PermissionGranted, PermissionDenied:
		return perm, nil
	default:
		return PermissionPrompt, nil
	}
}

// Request returns true when notifications are allowed. An undecided state
// is resolved by the prompter and the answer is stored; without a prompter
// the state stays undecided and Request reports false.
func (p *SettingsPermissions) Request(ctx context.Context) (bool, error) {
	perm, err := p.Query(ctx)
	if err != nil {
		return false, err
	}
	switch perm {
	case PermissionGranted:
		return true, nil
	case PermissionDenied:
		return false, nil
	}

	p.mu.Lock()
	prompter := p.prompter
	p.mu.Unlock()
	if prompter == nil {
		return false, nil
	}

	granted, err := prompter.AskPermission(ctx)
	if err != nil {
		return false, fmt.Errorf("ask permission: %w", err)
	}
	if granted {
		return true, p.set(ctx, PermissionGranted)
	}
	return false, p.set(ctx, PermissionDenied)
}

// Grant records an explicit user grant.
func (p *SettingsPermissions) Grant(ctx context.Context) error {
	return p.set(ctx, PermissionGranted)
}

// Revoke records an explicit user denial.
func (p *SettingsPermissions) Revoke(ctx context.Context) error {
	return p.set(ctx, PermissionDenied)
}

func (p *SettingsPermissions) set(ctx context.Context, perm Permission) error {
	if err := p.store.SetSetting(ctx, permissionKey, string(perm)); err != nil {
		return fmt.Errorf("store permission: %w", err)
	}
	return nil
}
