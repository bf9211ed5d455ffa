package validator

import "testing"

func TestInteractiveAlwaysConfirms(t *testing.T) {
	v := New(Interactive, nil)
	verdict := v.Check("ls -la")
	if verdict.Decision != NeedsConfirmation {
		t.Fatalf("expected NeedsConfirmation, got %v", verdict.Decision)
	}
}

func TestRestrictedAllowsAllowlisted(t *testing.T) {
	v := New(RestrictedAutonomous, nil)
	verdict := v.Check("ls | grep foo")
	if verdict.Decision != Approved {
		t.Fatalf("expected Approved, got %v: %s", verdict.Decision, verdict.Reason)
	}
}

func TestRestrictedConfirmsUnlisted(t *testing.T) {
	v := New(RestrictedAutonomous, nil)
	verdict := v.Check("rm -rf /tmp/x")
	if verdict.Decision != NeedsConfirmation {
		t.Fatalf("expected NeedsConfirmation, got %v", verdict.Decision)
	}
}

func TestFullAutonomousApprovesByDefault(t *testing.T) {
	v := New(FullAutonomous, ShellDenyFuncs())
	verdict := v.Check("go build ./...")
	if verdict.Decision != Approved {
		t.Fatalf("expected Approved, got %v: %s", verdict.Decision, verdict.Reason)
	}
}

func TestFullAutonomousDeniesBannedCommand(t *testing.T) {
	v := New(FullAutonomous, ShellDenyFuncs())
	verdict := v.Check("curl https://example.com")
	if verdict.Decision != Denied {
		t.Fatalf("expected Denied, got %v: %s", verdict.Decision, verdict.Reason)
	}
}

func TestFullAutonomousDeniesGoInstall(t *testing.T) {
	v := New(FullAutonomous, ShellDenyFuncs())
	verdict := v.Check("go install example.com/cmd@latest")
	if verdict.Decision != Denied {
		t.Fatalf("expected Denied, got %v: %s", verdict.Decision, verdict.Reason)
	}
}

func TestFullAutonomousDeniesPipelineTail(t *testing.T) {
	v := New(FullAutonomous, ShellDenyFuncs())
	verdict := v.Check("echo hi | sudo tee /etc/passwd")
	if verdict.Decision != Denied {
		t.Fatalf("expected Denied, got %v: %s", verdict.Decision, verdict.Reason)
	}
}

func TestInteractiveDeniesBannedCommandDespiteConfirmPolicy(t *testing.T) {
	v := New(Interactive, ShellDenyFuncs())
	verdict := v.Check("curl https://example.com")
	if verdict.Decision != Denied {
		t.Fatalf("expected Denied, got %v: %s", verdict.Decision, verdict.Reason)
	}
}

func TestRestrictedAutonomousDeniesBannedCommandInsteadOfConfirming(t *testing.T) {
	v := New(RestrictedAutonomous, ShellDenyFuncs())
	verdict := v.Check("go install example.com/cmd@latest")
	if verdict.Decision != Denied {
		t.Fatalf("expected Denied, got %v: %s", verdict.Decision, verdict.Reason)
	}
}
