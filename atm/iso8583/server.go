package iso8583

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/moov-io/iso8583"
	connection "github.com/moov-io/iso8583-connection"
	"github.com/moov-io/iso8583-connection/server"
	"golang.org/x/exp/slog"

	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/cardnum"
	"github.com/jonanatree/cyberbank-atm/internal/metrics"
)

// TransactionProcessor runs one complete ATM transaction.
type TransactionProcessor interface {
	ProcessTransaction(ctx context.Context, req models.TransactionRequest) *models.TransactionResult
}

// Response codes (field 39).
const (
	CodeApproved          = "00"
	CodeInvalidTxn        = "12"
	CodeInvalidAmount     = "13"
	CodeFormatError       = "30"
	CodeInsufficientFunds = "51"
	CodeNoAccount         = "52"
	CodeIncorrectPIN      = "55"
	CodePINTriesExceeded  = "75"
	CodeSystemError       = "96"
)

// Processing code prefixes (field 3, positions 1-2).
const (
	procWithdrawal     = "01"
	procDeposit        = "21"
	procBalanceInquiry = "31"
)

const processTimeout = 10 * time.Second

// Server accepts 0200 financial requests from ATM terminals and answers with 0210.
type Server struct {
	Addr      string
	logger    *slog.Logger
	processor TransactionProcessor
	metrics   *metrics.Collector
	server    *server.Server
}

func NewServer(logger *slog.Logger, addr string, processor TransactionProcessor, collector *metrics.Collector) *Server {
	return &Server{
		Addr:      addr,
		logger:    logger.With(slog.String("component", "iso8583")),
		processor: processor,
		metrics:   collector,
	}
}

func (s *Server) Start() error {
	srv := server.New(Spec, ReadMessageLength, WriteMessageLength,
		connection.InboundMessageHandler(s.handleMessage),
	)

	if err := srv.Start(s.Addr); err != nil {
		return fmt.Errorf("starting iso8583 server: %w", err)
	}
	s.server = srv
	s.Addr = srv.Addr
	s.logger.Info("iso8583 server started", slog.String("addr", s.Addr))
	return nil
}

func (s *Server) Close() error {
	if s.server != nil {
		s.server.Close()
	}
	return nil
}

func (s *Server) handleMessage(c *connection.Connection, message *iso8583.Message) {
	mti, err := message.GetMTI()
	if err != nil {
		s.logger.Error("getting MTI", slog.Any("err", err))
		return
	}

	var response *iso8583.Message
	switch mti {
	case "0200":
		response = s.handleFinancial(message)
	case "0800":
		response = iso8583.NewMessage(Spec)
		response.MTI("0810")
		response.Field(11, get(message, 11))
		response.Field(39, CodeApproved)
	default:
		s.logger.Warn("unsupported MTI", slog.String("mti", mti))
		response = iso8583.NewMessage(Spec)
		response.MTI(responseMTI(mti))
		response.Field(11, get(message, 11))
		response.Field(39, CodeInvalidTxn)
	}

	code := get(response, 39)
	s.metrics.ISO8583Message(mti, code)

	if err := c.Reply(response); err != nil {
		s.logger.Error("replying to message", slog.String("mti", mti), slog.Any("err", err))
	}
}

func (s *Server) handleFinancial(message *iso8583.Message) *iso8583.Message {
	pan := get(message, 2)
	proc := get(message, 3)
	stan := get(message, 11)
	account := get(message, 48)

	response := iso8583.NewMessage(Spec)
	response.MTI("0210")
	response.Field(3, proc)
	response.Field(11, stan)
	if account != "" {
		response.Field(48, account)
	}

	req := models.TransactionRequest{
		CardNumber:    pan,
		PIN:           get(message, 52),
		AccountNumber: account,
	}

	txType, ok := requestType(proc)
	if !ok {
		response.Field(39, CodeInvalidTxn)
		response.Field(44, "unsupported processing code")
		return response
	}
	req.TransactionType = txType

	if v := get(message, 4); v != "" {
		amount, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.Field(39, CodeFormatError)
			response.Field(44, "invalid amount")
			return response
		}
		// a zero amount on a balance inquiry means "no amount"
		if amount != 0 || txType != models.RequestCheckBalance {
			req.Amount = &amount
			response.Field(4, v)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	logger := s.logger.With(slog.String("stan", stan), slog.String("card", cardnum.Mask(pan)))
	res := s.processor.ProcessTransaction(ctx, req)

	code := ResponseCode(res.ErrorCode)
	response.Field(39, code)
	response.Field(44, truncate(res.Message, 99))

	switch {
	case res.NewBalance != nil:
		response.Field(54, FormatBalance(res.AccountType, *res.NewBalance))
	case res.Balance != nil:
		response.Field(54, FormatBalance(res.AccountType, *res.Balance))
	}

	logger.Info("financial request processed", slog.String("proc", proc), slog.String("code", code))
	return response
}

// ResponseCode maps a result code to field 39.
func ResponseCode(code models.ErrorCode) string {
	switch code {
	case "":
		return CodeApproved
	case models.ErrorCodeInvalidPIN:
		return CodeIncorrectPIN
	case models.ErrorCodeCardBlocked:
		return CodePINTriesExceeded
	case models.ErrorCodeAccountNotFound:
		return CodeNoAccount
	case models.ErrorCodeInvalidAmount:
		return CodeInvalidAmount
	case models.ErrorCodeBadRequest:
		return CodeFormatError
	case models.ErrorCodeInvalidState:
		// the only state failure reachable in a one-shot request is a short balance
		return CodeInsufficientFunds
	}
	return CodeSystemError
}

// FormatBalance renders one field 54 entry: account type, amount type 02
// (available), currency 840, sign and 12 digit amount.
func FormatBalance(accountType models.AccountType, balance int64) string {
	typ := "00"
	switch accountType {
	case models.AccountTypeSavings:
		typ = "10"
	case models.AccountTypeChecking:
		typ = "20"
	}
	sign := "C"
	if balance < 0 {
		sign = "D"
		balance = -balance
	}
	return fmt.Sprintf("%s02840%s%012d", typ, sign, balance)
}

func requestType(proc string) (models.RequestType, bool) {
	if len(proc) < 2 {
		return "", false
	}
	switch proc[:2] {
	case procBalanceInquiry:
		return models.RequestCheckBalance, true
	case procDeposit:
		return models.RequestDeposit, true
	case procWithdrawal:
		return models.RequestWithdraw, true
	}
	return "", false
}

// responseMTI turns a request MTI into its response, e.g. 0100 -> 0110.
func responseMTI(mti string) string {
	if len(mti) != 4 || mti[2] < '0' || mti[2] > '8' {
		return "0210"
	}
	return mti[:2] + string(mti[2]+1) + mti[3:]
}

func get(m *iso8583.Message, id int) string {
	v, err := m.GetString(id)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
