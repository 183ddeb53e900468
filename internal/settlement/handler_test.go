package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fkhayef/settleup/internal/database/dbtest"
	"github.com/fkhayef/settleup/internal/expense"
	"github.com/fkhayef/settleup/internal/expense/split"
	"github.com/fkhayef/settleup/internal/group"
	"github.com/fkhayef/settleup/internal/ledger"
	"github.com/fkhayef/settleup/internal/metrics"
	"github.com/fkhayef/settleup/internal/user"
	"github.com/fkhayef/settleup/pkg/middleware"
)

type stack struct {
	srv      *httptest.Server
	groupURL string

	alice, bob, carol, outsider int64
}

// newStack wires the sqlite repositories behind the settlement routes and
// records a 100 expense paid by Alice, split 50/30/20
func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	db := dbtest.New(t)
	notifier := &recordingNotifier{}
	m := metrics.New()

	s := &stack{
		alice:    dbtest.User(t, db, "Alice", "alice@example.com"),
		bob:      dbtest.User(t, db, "Bob", "bob@example.com"),
		carol:    dbtest.User(t, db, "Carol", "carol@example.com"),
		outsider: dbtest.User(t, db, "Dave", "dave@example.com"),
	}

	expenseRepo := expense.NewRepository(db)
	settlementRepo := NewRepository(db)
	groups := group.NewService(group.NewRepository(db), expenseRepo, settlementRepo, notifier)
	expenses := expense.NewService(expenseRepo, groups, split.NewFactory(), notifier, m)
	svc := NewService(groups, user.NewService(user.NewRepository(db)), expenseRepo, settlementRepo, notifier, m)

	g, err := groups.Create(ctx, s.alice, &group.CreateGroupRequest{Name: "Trip"})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{s.bob, s.carol} {
		if _, err := groups.AddMember(ctx, g.ID, s.alice, &group.AddMemberRequest{UserID: id}); err != nil {
			t.Fatal(err)
		}
		if _, err := groups.AcceptInvitation(ctx, g.ID, id); err != nil {
			t.Fatal(err)
		}
	}

	pct := func(v string) *decimal.Decimal {
		d := dec(v)
		return &d
	}
	_, err = expenses.CreateExpense(ctx, g.ID, s.alice, &expense.CreateExpenseRequest{
		Description: "Groceries",
		Amount:      dec("100"),
		SplitType:   ledger.SplitTypePercentage,
		Participants: []split.Input{
			{Member: ledger.MemberID(s.alice), Percent: pct("50")},
			{Member: ledger.MemberID(s.bob), Percent: pct("30")},
			{Member: ledger.MemberID(s.carol), Percent: pct("20")},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Use(middleware.TestUserMiddleware)
	r.Get("/groups/{groupId}/balance", h.GetBalances)
	r.Mount("/groups/{groupId}/settlements", h.Routes())

	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	s.groupURL = s.srv.URL + "/groups/" + strconv.FormatInt(g.ID, 10)
	return s
}

func send(t *testing.T, method, url string, userID int64, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(middleware.TestUserHeader, strconv.FormatInt(userID, 10))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandlerBalanceAndSuggestions(t *testing.T) {
	decimal.MarshalJSONWithoutQuotes = true
	t.Cleanup(func() { decimal.MarshalJSONWithoutQuotes = false })
	s := newStack(t)

	resp := send(t, http.MethodGet, s.groupURL+"/balance", s.bob, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance status = %d", resp.StatusCode)
	}
	var balance struct {
		Data BalancesResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		t.Fatal(err)
	}
	if got := balance.Data.ByMemberID[strconv.FormatInt(s.carol, 10)]; !got.Equal(dec("-20")) {
		t.Errorf("carol net = %s, want -20", got)
	}
	if len(balance.Data.Members) != 3 {
		t.Errorf("got %d members, want 3", len(balance.Data.Members))
	}

	resp = send(t, http.MethodGet, s.groupURL+"/settlements/suggestions", s.carol, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("suggestions status = %d", resp.StatusCode)
	}
	var suggestions struct {
		Data SuggestionsResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&suggestions); err != nil {
		t.Fatal(err)
	}
	if len(suggestions.Data.Suggestions) != 2 {
		t.Fatalf("got %d suggestions, want 2", len(suggestions.Data.Suggestions))
	}
	if first := suggestions.Data.Suggestions[0]; first.FromName != "Bob" || first.ToName != "Alice" {
		t.Errorf("first suggestion = %+v", first)
	}
}

func TestHandlerRecordSettlement(t *testing.T) {
	decimal.MarshalJSONWithoutQuotes = true
	t.Cleanup(func() { decimal.MarshalJSONWithoutQuotes = false })
	s := newStack(t)
	url := s.groupURL + "/settlements"
	pay := func(from, to int64, amount string) string {
		return fmt.Sprintf(`{"from":%d,"to":%d,"amount":%s}`, from, to, amount)
	}

	resp := send(t, http.MethodPost, url, s.carol, pay(s.carol, s.alice, "25"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("overpayment status = %d, want 400", resp.StatusCode)
	}
	var failed struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&failed); err != nil {
		t.Fatal(err)
	}
	if failed.Error.Code != "OVERPAYMENT" || failed.Error.Message != "Amount exceeds pending debt. Max payable: 20.00" {
		t.Errorf("overpayment error = %+v", failed.Error)
	}

	tests := []struct {
		name string
		user int64
		body string
		want int
	}{
		{name: "malformed body", user: s.carol, body: `{`, want: http.StatusBadRequest},
		{name: "missing amount", user: s.carol, body: fmt.Sprintf(`{"from":%d,"to":%d}`, s.carol, s.alice), want: http.StatusBadRequest},
		{name: "pays for someone else", user: s.alice, body: pay(s.carol, s.alice, "5"), want: http.StatusForbidden},
		{name: "outsider", user: s.outsider, body: pay(s.outsider, s.alice, "5"), want: http.StatusForbidden},
		{name: "to self", user: s.carol, body: pay(s.carol, s.carol, "5"), want: http.StatusBadRequest},
		{name: "pays debt", user: s.carol, body: pay(s.carol, s.alice, "20"), want: http.StatusCreated},
		{name: "already settled", user: s.carol, body: pay(s.carol, s.alice, "1"), want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := send(t, http.MethodPost, url, tt.user, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	resp = send(t, http.MethodGet, url+"/logs", s.bob, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs status = %d", resp.StatusCode)
	}
	var logs struct {
		Data []SettlementResponse `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&logs); err != nil {
		t.Fatal(err)
	}
	if logs.Meta.Total != 1 || len(logs.Data) != 1 || logs.Data[0].FromName != "Carol" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestHandlerRequestPaymentDetails(t *testing.T) {
	s := newStack(t)
	url := s.groupURL + "/settlements/request-payment-details"

	tests := []struct {
		name string
		user int64
		body string
		want int
	}{
		{name: "debtor asks creditor", user: s.bob, body: fmt.Sprintf(`{"to":%d,"amount":"30"}`, s.alice), want: http.StatusOK},
		{name: "creditor asks", user: s.alice, body: fmt.Sprintf(`{"to":%d,"amount":"30"}`, s.bob), want: http.StatusBadRequest},
		{name: "anonymous", user: 0, body: fmt.Sprintf(`{"to":%d,"amount":"30"}`, s.alice), want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if tt.user != 0 {
				req.Header.Set(middleware.TestUserHeader, strconv.FormatInt(tt.user, 10))
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
