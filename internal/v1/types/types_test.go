package types

import "testing"

func TestIDPatterns(t *testing.T) {
	cases := []struct {
		name    string
		re      func(string) bool
		input   string
		matches bool
	}{
		{"room ok", RoomIDPattern.MatchString, "channel-1", true},
		{"room empty", RoomIDPattern.MatchString, "", false},
		{"entity human", EntityIDPattern.MatchString, "hum_abc123", true},
		{"entity npc-prefixed rejected by entity pattern", EntityIDPattern.MatchString, "npc_guard", false},
		{"npc bare", NPCIDPattern.MatchString, "guard-1", true},
		{"tx short rejected", TxIDPattern.MatchString, "tx_short", false},
		{"tx ok", TxIDPattern.MatchString, "tx_abcdef12", true},
		{"message ok", MessageIDPattern.MatchString, "msg_abcdef12", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.re(tc.input); got != tc.matches {
				t.Errorf("match(%q) = %v, want %v", tc.input, got, tc.matches)
			}
		})
	}
}

func TestErrorCodeRetryable(t *testing.T) {
	retryable := []ErrorCode{ErrRoomNotReady, ErrRateLimited, ErrTimeout, ErrInternal}
	for _, c := range retryable {
		if !c.Retryable() {
			t.Errorf("%s should be retryable", c)
		}
	}
	nonRetryable := []ErrorCode{ErrBadRequest, ErrUnauthorized, ErrForbidden, ErrNotFound, ErrConflict, ErrAgentNotInRoom, ErrInvalidDest, ErrCollisionBlocked}
	for _, c := range nonRetryable {
		if c.Retryable() {
			t.Errorf("%s should not be retryable", c)
		}
	}
}

func TestNewAPIErrorSetsRetryable(t *testing.T) {
	e := NewAPIError(ErrRateLimited, "too fast")
	if !e.Retryable {
		t.Fatal("expected retryable=true")
	}
	if e.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}

func TestEntityClone(t *testing.T) {
	e := &Entity{ID: "hum_1", Meta: map[string]string{"title": "engineer"}}
	cp := e.Clone()
	cp.Meta["title"] = "changed"
	if e.Meta["title"] != "engineer" {
		t.Fatal("clone must not alias the original meta map")
	}
}
