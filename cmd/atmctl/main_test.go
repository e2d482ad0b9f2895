package main

import (
	"flag"
	"testing"

	"github.com/jonanatree/cyberbank-atm/atm/models"
)

func TestBuildRequest(t *testing.T) {
	set := func(name, value string) {
		t.Helper()
		if err := flag.Set(name, value); err != nil {
			t.Fatalf("set -%s: %v", name, err)
		}
	}
	set("card", "1234 5678 9012 3456")
	set("pin", "1234")
	set("account", "ACC001")
	set("type", "withdraw")
	set("amount", "300")

	req := buildRequest()
	if req.CardNumber != "1234567890123456" {
		t.Fatalf("card number = %q", req.CardNumber)
	}
	if req.TransactionType != models.RequestWithdraw {
		t.Fatalf("type = %q want WITHDRAW", req.TransactionType)
	}
	if req.Amount == nil || *req.Amount != 300 {
		t.Fatalf("amount = %v want 300", req.Amount)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	set("amount", "0")
	set("type", "CHECK_BALANCE")
	req = buildRequest()
	if req.Amount != nil {
		t.Fatalf("amount = %v want nil", *req.Amount)
	}
}
