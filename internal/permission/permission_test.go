package permission

import (
	"context"
	"errors"
	"testing"
)

// mockCombined is a mock implementation of CombinedAuthorizer for testing.
type mockCombined struct {
	status        Status
	statusErr     error
	requestResult Status
	requestErr    error
	requests      int
}

func (m *mockCombined) AuthorizationStatus(ctx context.Context) (Status, error) {
	return m.status, m.statusErr
}

func (m *mockCombined) RequestPermissions(ctx context.Context) (Status, error) {
	m.requests++
	return m.requestResult, m.requestErr
}

// mockSplit is a mock implementation of SplitAuthorizer for testing.
type mockSplit struct {
	current  map[Kind]Status
	onGrant  map[Kind]Status
	requests []Kind
}

func (m *mockSplit) Check(ctx context.Context, kind Kind) (Status, error) {
	return m.current[kind], nil
}

func (m *mockSplit) Request(ctx context.Context, kind Kind) (Status, error) {
	m.requests = append(m.requests, kind)
	return m.onGrant[kind], nil
}

func TestCombinedGate_AlreadyGranted(t *testing.T) {
	auth := &mockCombined{status: Granted}
	if !NewCombinedGate(auth).Ensure(context.Background(), true) {
		t.Fatal("Expected Ensure() to return true for a granted permission")
	}
	if auth.requests != 0 {
		t.Errorf("Expected no permission request, got %d", auth.requests)
	}
}

func TestCombinedGate_RequestsOnce(t *testing.T) {
	auth := &mockCombined{status: NotDetermined, requestResult: Granted}
	if !NewCombinedGate(auth).Ensure(context.Background(), true) {
		t.Fatal("Expected Ensure() to use the request result")
	}
	if auth.requests != 1 {
		t.Errorf("Expected exactly one permission request, got %d", auth.requests)
	}

	denied := &mockCombined{status: Denied, requestResult: Denied}
	if NewCombinedGate(denied).Ensure(context.Background(), true) {
		t.Error("Expected Ensure() to return false when the request is denied")
	}
	if denied.requests != 1 {
		t.Errorf("Expected exactly one permission request, got %d", denied.requests)
	}
}

func TestCombinedGate_StatusErrorStillRequests(t *testing.T) {
	auth := &mockCombined{statusErr: errors.New("boom"), requestResult: Granted}
	if !NewCombinedGate(auth).Ensure(context.Background(), true) {
		t.Fatal("Expected Ensure() to fall back to a request after a status error")
	}
}

func TestCombinedGate_NonInteractiveNeverRequests(t *testing.T) {
	auth := &mockCombined{status: Denied, requestResult: Granted}
	if NewCombinedGate(auth).Ensure(context.Background(), false) {
		t.Error("Expected Ensure() to return false without prompting")
	}
	if auth.requests != 0 {
		t.Errorf("Expected no permission request in non-interactive mode, got %d", auth.requests)
	}
}

func TestCombinedGate_PermanentlyDenied(t *testing.T) {
	auth := &mockCombined{status: PermanentlyDenied, requestResult: Granted}
	if NewCombinedGate(auth).Ensure(context.Background(), true) {
		t.Error("Expected Ensure() to return false for a permanently denied permission")
	}
	if auth.requests != 0 {
		t.Errorf("Expected no permission request, got %d", auth.requests)
	}
}

func TestSplitGate_BothGranted(t *testing.T) {
	auth := &mockSplit{current: map[Kind]Status{Read: Granted, Write: Granted}}
	if !NewSplitGate(auth).Ensure(context.Background(), true) {
		t.Fatal("Expected Ensure() to return true when read and write are granted")
	}
	if len(auth.requests) != 0 {
		t.Errorf("Expected no requests, got %v", auth.requests)
	}
}

func TestSplitGate_MissingWriteRequestsBoth(t *testing.T) {
	auth := &mockSplit{
		current: map[Kind]Status{Read: Granted, Write: NotDetermined},
		onGrant: map[Kind]Status{Read: Granted, Write: Granted},
	}
	if !NewSplitGate(auth).Ensure(context.Background(), true) {
		t.Fatal("Expected Ensure() to return true after both requests are granted")
	}
	if len(auth.requests) != 2 || auth.requests[0] != Read || auth.requests[1] != Write {
		t.Errorf("Expected read and write to be requested once each, got %v", auth.requests)
	}
}

func TestSplitGate_OneDenied(t *testing.T) {
	auth := &mockSplit{
		current: map[Kind]Status{Read: NotDetermined, Write: NotDetermined},
		onGrant: map[Kind]Status{Read: Granted, Write: Denied},
	}
	if NewSplitGate(auth).Ensure(context.Background(), true) {
		t.Error("Expected Ensure() to return false when write is denied")
	}
}

func TestSplitGate_NonInteractive(t *testing.T) {
	auth := &mockSplit{
		current: map[Kind]Status{Read: Granted, Write: Denied},
		onGrant: map[Kind]Status{Read: Granted, Write: Granted},
	}
	if NewSplitGate(auth).Ensure(context.Background(), false) {
		t.Error("Expected Ensure() to return false without prompting")
	}
	if len(auth.requests) != 0 {
		t.Errorf("Expected no requests in non-interactive mode, got %v", auth.requests)
	}
}
