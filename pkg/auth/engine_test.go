package auth

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/lnmt-project/lnmt/pkg/model"
	"github.com/lnmt-project/lnmt/pkg/store"
	"github.com/lnmt-project/lnmt/pkg/util"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *clocktesting.FakePassiveClock) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	clk := clocktesting.NewFakePassiveClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	e := NewEngine(st, DefaultPolicy(), clk)

	if _, err := e.CreateUser("alice", "s3cret-passw0rd", "alice@example.net", model.RoleOperator); err != nil {
		t.Fatalf("creating test user: %v", err)
	}
	return e, st, clk
}

func TestPasswordHash_RoundTrip(t *testing.T) {
	encoded, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}
	if err := VerifyPassword("hunter2", encoded); err != nil {
		t.Errorf("VerifyPassword(correct) = %v, want nil", err)
	}
	if err := VerifyPassword("hunter3", encoded); err == nil {
		t.Error("VerifyPassword(wrong) should fail")
	}

	// Two hashes of the same password must differ (random salt).
	second, _ := HashPassword("hunter2")
	if encoded == second {
		t.Error("verifiers should not repeat across calls")
	}
}

func TestLogin_Success(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res, err := e.Login("alice", "s3cret-passw0rd", false)
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if res.Token == "" {
		t.Fatal("Login() returned empty token")
	}

	user, err := e.Validate(res.Token)
	if err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if user.Username != "alice" || user.Role != model.RoleOperator {
		t.Errorf("Validate() = %s/%s, want alice/operator", user.Username, user.Role)
	}

	// Usernames are case-insensitive.
	if _, err := e.Login("ALICE", "s3cret-passw0rd", false); err != nil {
		t.Errorf("Login(ALICE) = %v, want success", err)
	}
}

func TestLogin_Lockout(t *testing.T) {
	e, st, clk := newTestEngine(t)

	for i := 0; i < 5; i++ {
		if _, err := e.Login("alice", "wrong", false); !errors.Is(err, util.ErrUnauthenticated) {
			t.Fatalf("failure %d: Login() = %v, want unauthenticated", i+1, err)
		}
		clk.SetTime(clk.Now().Add(time.Minute))
	}

	// Sixth attempt with the correct password is refused during lockout
	// and must not bump the counter.
	if _, err := e.Login("alice", "s3cret-passw0rd", false); !errors.Is(err, util.ErrPolicyViolation) {
		t.Fatalf("login during lockout = %v, want LockedOut", err)
	}
	before, _ := st.GetUser("alice")
	for i := 0; i < 3; i++ {
		_, _ = e.Login("alice", "wrong", false)
	}
	after, _ := st.GetUser("alice")
	if after.FailedAttempts != before.FailedAttempts {
		t.Errorf("failed_attempts moved during lockout: %d -> %d", before.FailedAttempts, after.FailedAttempts)
	}

	// After the lockout duration elapses the correct password works and
	// the counter resets.
	clk.SetTime(clk.Now().Add(16 * time.Minute))
	res, err := e.Login("alice", "s3cret-passw0rd", false)
	if err != nil {
		t.Fatalf("login after lockout = %v, want success", err)
	}
	if res.User.FailedAttempts != 0 {
		t.Errorf("failed_attempts after recovery = %d, want 0", res.User.FailedAttempts)
	}
}

func TestLogin_FailureWindowResets(t *testing.T) {
	e, _, clk := newTestEngine(t)

	for i := 0; i < 4; i++ {
		_, _ = e.Login("alice", "wrong", false)
	}
	// Let the 15-minute window lapse; the streak restarts.
	clk.SetTime(clk.Now().Add(20 * time.Minute))
	_, _ = e.Login("alice", "wrong", false)

	// Still not locked: the fifth failure opened a fresh window.
	if _, err := e.Login("alice", "s3cret-passw0rd", false); err != nil {
		t.Errorf("login after window reset = %v, want success", err)
	}
}

func TestValidate_ExpiredAndRevoked(t *testing.T) {
	e, _, clk := newTestEngine(t)

	res, err := e.Login("alice", "s3cret-passw0rd", false)
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}

	clk.SetTime(clk.Now().Add(31 * time.Minute))
	if _, err := e.Validate(res.Token); !errors.Is(err, ErrExpired) {
		t.Errorf("Validate(expired) = %v, want ErrExpired", err)
	}

	clk.SetTime(clk.Now().Add(-31 * time.Minute))
	res2, _ := e.Login("alice", "s3cret-passw0rd", false)
	if err := e.Logout(res2.Token); err != nil {
		t.Fatalf("Logout() failed: %v", err)
	}
	if _, err := e.Validate(res2.Token); !errors.Is(err, ErrRevoked) {
		t.Errorf("Validate(revoked) = %v, want ErrRevoked", err)
	}

	if _, err := e.Validate("deadbeef"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("Validate(unknown) = %v, want ErrUnknownToken", err)
	}
}

func TestRefresh_SingleUse(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res, err := e.Login("alice", "s3cret-passw0rd", true)
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}

	next, err := e.Refresh(res.Token)
	if err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if next.Token == res.Token {
		t.Error("Refresh() must rotate the token")
	}

	// The old token is revoked; a second refresh on it fails.
	if _, err := e.Refresh(res.Token); !errors.Is(err, ErrRevoked) {
		t.Errorf("second Refresh(old) = %v, want ErrRevoked", err)
	}
	if _, err := e.Validate(res.Token); !errors.Is(err, ErrRevoked) {
		t.Errorf("Validate(old) = %v, want ErrRevoked", err)
	}
	if _, err := e.Validate(next.Token); err != nil {
		t.Errorf("Validate(new) = %v, want success", err)
	}
}

func TestVerifyRole(t *testing.T) {
	e, _, _ := newTestEngine(t)
	admin := &model.User{Username: "root", Role: model.RoleAdmin}
	viewer := &model.User{Username: "guest", Role: model.RoleViewer}

	if err := e.VerifyRole(admin, model.RoleOperator); err != nil {
		t.Errorf("admin should cover operator: %v", err)
	}
	if err := e.VerifyRole(viewer, model.RoleOperator); !errors.Is(err, util.ErrForbidden) {
		t.Errorf("viewer covering operator = %v, want ErrForbidden", err)
	}
	if err := e.VerifyRole(nil, model.RoleViewer); !errors.Is(err, util.ErrForbidden) {
		t.Errorf("nil user = %v, want ErrForbidden", err)
	}
}

func TestDisabledUser(t *testing.T) {
	e, _, _ := newTestEngine(t)

	res, err := e.Login("alice", "s3cret-passw0rd", false)
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if err := e.SetEnabled("alice", false); err != nil {
		t.Fatalf("SetEnabled() failed: %v", err)
	}

	if _, err := e.Login("alice", "s3cret-passw0rd", false); !errors.Is(err, util.ErrPolicyViolation) {
		t.Errorf("login disabled = %v, want policy violation", err)
	}
	// Existing sessions are revoked on disable.
	if _, err := e.Validate(res.Token); err == nil {
		t.Error("Validate() should fail after account disable")
	}
}

func TestLogin_ConcurrentFailuresAndSuccesses(t *testing.T) {
	e, _, _ := newTestEngine(t)

	const users = 8
	names := make([]string, users)
	for i := range names {
		names[i] = fmt.Sprintf("user%d", i)
		if _, err := e.CreateUser(names[i], "good-passw0rd", "", model.RoleViewer); err != nil {
			t.Fatalf("creating %s: %v", names[i], err)
		}
	}

	// Failed logins and successes interleave across goroutines; the
	// in-memory failure-streak bookkeeping must tolerate that.
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				if _, err := e.Login(name, "wrong-password", false); !errors.Is(err, util.ErrUnauthenticated) {
					t.Errorf("Login(%s, wrong) = %v, want unauthenticated", name, err)
				}
			}
			if _, err := e.Login(name, "good-passw0rd", false); err != nil {
				t.Errorf("Login(%s, correct) = %v, want nil", name, err)
			}
		}(name)
	}
	wg.Wait()

	// The successes cleared every streak; nobody is locked out.
	for _, name := range names {
		if _, err := e.Login(name, "good-passw0rd", false); err != nil {
			t.Errorf("Login(%s) after concurrent burst = %v, want nil", name, err)
		}
	}
}
