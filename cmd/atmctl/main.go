package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/atmclient"
	"github.com/jonanatree/cyberbank-atm/internal/cardnum"
	"github.com/jonanatree/cyberbank-atm/internal/security"
)

var (
	flagServer   = flag.String("server", "http://127.0.0.1:8080", "ATM service base URL")
	flagCard     = flag.String("card", "", "16-digit card number")
	flagPIN      = flag.String("pin", "", "card PIN (4-6 digits)")
	flagAccount  = flag.String("account", "", "account number")
	flagType     = flag.String("type", "CHECK_BALANCE", "transaction type: CHECK_BALANCE|DEPOSIT|WITHDRAW")
	flagAmount   = flag.Int64("amount", 0, "amount for DEPOSIT and WITHDRAW")
	flagHistory  = flag.Int("history", 0, "list the last N transactions of -account instead of transacting")
	flagHashPIN  = flag.Bool("hash-pin", false, "print a bcrypt verification value for -pin and exit")
	flagCost     = flag.Int("cost", 10, "bcrypt cost for -hash-pin")
	flagPrint    = flag.Bool("print", false, "print the request JSON only, do not send")
	flagVerbose  = flag.Bool("verbose", false, "print the full card number (otherwise masked)")
	flagTimeoutS = flag.Int("timeout", 10, "request timeout in seconds")
)

func main() {
	flag.Parse()

	if *flagHashPIN {
		must(security.ValidatePINFormat(*flagPIN))
		v := security.NewBcryptVerifier(*flagCost)
		fmt.Println(must1(v.Hash(*flagCard, *flagPIN)))
		return
	}

	if *flagTimeoutS <= 0 {
		fail("-timeout must be positive seconds")
	}
	cli := atmclient.New(strings.TrimRight(*flagServer, "/"), &http.Client{Timeout: time.Duration(*flagTimeoutS) * time.Second})
	ctx := context.Background()

	if *flagHistory > 0 {
		if *flagAccount == "" {
			fail("-account is required with -history")
		}
		txs := must1(cli.Transactions(ctx, *flagAccount, *flagHistory))
		for _, tx := range txs {
			fmt.Printf("%s  %-15s %8d  balance %8d\n", tx.CreatedAt.Format(time.RFC3339), tx.Type, tx.Amount, tx.BalanceAfter)
		}
		return
	}

	req := buildRequest()
	if err := req.Validate(); err != nil {
		fail("%v", err)
	}

	if *flagPrint {
		shown := req
		shown.PIN = strings.Repeat("*", len(req.PIN))
		enc, _ := json.MarshalIndent(shown, "", "  ")
		fmt.Println(string(enc))
		return
	}

	card := cardnum.Mask(req.CardNumber)
	if *flagVerbose {
		card = req.CardNumber + "   (WARNING: printing full card number)"
	}
	fmt.Printf("CARD: %s  ACCOUNT: %s  TYPE: %s\n", card, req.AccountNumber, req.TransactionType)

	res := must1(cli.ProcessTransaction(ctx, req))
	printResult(res)
	if !res.Success {
		os.Exit(2)
	}
}

func buildRequest() models.TransactionRequest {
	req := models.TransactionRequest{
		CardNumber:      cardnum.Normalize(*flagCard),
		PIN:             *flagPIN,
		AccountNumber:   *flagAccount,
		TransactionType: models.RequestType(strings.ToUpper(*flagType)),
	}
	if *flagAmount != 0 {
		req.Amount = flagAmount
	}
	return req
}

func printResult(res *models.TransactionResult) {
	if !res.Success {
		fmt.Printf("FAILED [%s]: %s\n", res.ErrorCode, res.Message)
		if res.ErrorDetails != "" && res.ErrorDetails != res.Message {
			fmt.Printf("  details: %s\n", res.ErrorDetails)
		}
		if res.RemainingAttempts != nil {
			fmt.Printf("  remaining PIN attempts: %d\n", *res.RemainingAttempts)
		}
		if res.SessionID != "" {
			fmt.Printf("  retry the PIN on session %s\n", res.SessionID)
		}
		return
	}
	fmt.Println(res.Message)
	if res.Balance != nil {
		fmt.Printf("  balance: %d\n", *res.Balance)
	}
	if res.NewBalance != nil {
		fmt.Printf("  %d -> %d (amount %d)\n", *res.PreviousBalance, *res.NewBalance, *res.TransactionAmount)
	}
}

func must(err error) {
	if err != nil {
		fail("%v", err)
	}
}

func must1[T any](v T, err error) T {
	if err != nil {
		fail("%v", err)
	}
	return v
}

func fail(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
