package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campuscoin/ledger/internal/catalog"
	"github.com/campuscoin/ledger/pkg/coin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	testSigningKey = "test-signing-key"
	testIssuer     = "campuscoin-test"
	testNow        = int64(1_700_000_000)
)

func TestRequestsWithoutTokenRejected(test *testing.T) {
	test.Parallel()
	server, _ := newTestServer(test)
	router := server.Router()

	request := httptest.NewRequest(http.MethodGet, "/api/advantages", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401, got %d", recorder.Code)
	}
	if code := decodeErrorCode(test, recorder.Body.Bytes()); code != errorUnauthorized {
		test.Fatalf("expected code %q, got %q", errorUnauthorized, code)
	}
}

func TestHealthAndMetricsNeedNoToken(test *testing.T) {
	test.Parallel()
	server, _ := newTestServer(test)
	router := server.Router()

	for _, path := range []string{"/healthz", "/metrics"} {
		request := httptest.NewRequest(http.MethodGet, path, nil)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusOK {
			test.Fatalf("expected 200 for %s, got %d", path, recorder.Code)
		}
	}
}

func TestOpenAccountAndFetch(test *testing.T) {
	test.Parallel()
	server, _ := newTestServer(test)
	router := server.Router()
	token := signTestToken(test, "caller-1")

	body := `{"owner_kind":"student","display_name":"Ada"}`
	recorder := doJSON(test, router, token, http.MethodPost, "/api/accounts", body)
	if recorder.Code != http.StatusCreated {
		test.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var created accountPayload
	mustDecode(test, recorder.Body.Bytes(), &created)
	if created.OwnerKind != "student" || created.DisplayName != "Ada" {
		test.Fatalf("unexpected payload: %+v", created)
	}
	if created.Balance != "0.00" {
		test.Fatalf("expected zero balance, got %q", created.Balance)
	}

	recorder = doJSON(test, router, token, http.MethodGet, "/api/accounts/"+created.AccountID, "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestOpenAccountRejectsBlankDisplayName(test *testing.T) {
	test.Parallel()
	server, _ := newTestServer(test)
	router := server.Router()
	token := signTestToken(test, "caller-1")

	body := `{"owner_kind":"student","display_name":"   "}`
	recorder := doJSON(test, router, token, http.MethodPost, "/api/accounts", body)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if code := decodeErrorCode(test, recorder.Body.Bytes()); code != errorInvalidPayload {
		test.Fatalf("expected %q, got %q", errorInvalidPayload, code)
	}
}

func TestTransferEndpointMovesFunds(test *testing.T) {
	test.Parallel()
	server, store := newTestServer(test)
	router := server.Router()
	token := signTestToken(test, "caller-1")
	sourceID := store.mustAddAccount(test, "instructor-1", coin.OwnerInstructor, 125000)
	destinationID := store.mustAddAccount(test, "student-1", coin.OwnerStudent, 0)

	body := `{"source_id":"instructor-1","destination_id":"student-1","amount":"300.00","reason":"Great work"}`
	recorder := doJSON(test, router, token, http.MethodPost, "/api/transfers", body)
	if recorder.Code != http.StatusCreated {
		test.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload map[string]any
	mustDecode(test, recorder.Body.Bytes(), &payload)
	if payload["amount"] != "300.00" {
		test.Fatalf("expected formatted amount, got %v", payload["amount"])
	}
	if got := store.mustBalance(test, sourceID); got != 95000 {
		test.Fatalf("expected source balance 95000, got %d", got)
	}
	if got := store.mustBalance(test, destinationID); got != 30000 {
		test.Fatalf("expected destination balance 30000, got %d", got)
	}
}

func TestTransferInsufficientFunds(test *testing.T) {
	test.Parallel()
	server, store := newTestServer(test)
	router := server.Router()
	token := signTestToken(test, "caller-1")
	store.mustAddAccount(test, "student-1", coin.OwnerStudent, 100)
	store.mustAddAccount(test, "student-2", coin.OwnerStudent, 0)

	body := `{"source_id":"student-1","destination_id":"student-2","amount":"5.00","reason":"too much"}`
	recorder := doJSON(test, router, token, http.MethodPost, "/api/transfers", body)
	if recorder.Code != http.StatusUnprocessableEntity {
		test.Fatalf("expected 422, got %d", recorder.Code)
	}
	if code := decodeErrorCode(test, recorder.Body.Bytes()); code != errorInsufficientFunds {
		test.Fatalf("expected code %q, got %q", errorInsufficientFunds, code)
	}
}

func TestAmountWithSubCentPrecisionRejected(test *testing.T) {
	test.Parallel()
	server, store := newTestServer(test)
	router := server.Router()
	token := signTestToken(test, "caller-1")
	store.mustAddAccount(test, "student-1", coin.OwnerStudent, 1000)

	body := `{"account_id":"student-1","amount":"1.005","reason":"award"}`
	recorder := doJSON(test, router, token, http.MethodPost, "/api/credits", body)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
	if code := decodeErrorCode(test, recorder.Body.Bytes()); code != errorInvalidAmount {
		test.Fatalf("expected code %q, got %q", errorInvalidAmount, code)
	}
}

func TestListTransactionsRequiresExactlyOneFilter(test *testing.T) {
	test.Parallel()
	server, _ := newTestServer(test)
	router := server.Router()
	token := signTestToken(test, "caller-1")

	for _, query := range []string{"", "?account_id=a&kind=credit"} {
		recorder := doJSON(test, router, token, http.MethodGet, "/api/transactions"+query, "")
		if recorder.Code != http.StatusBadRequest {
			test.Fatalf("expected 400 for query %q, got %d", query, recorder.Code)
		}
		if code := decodeErrorCode(test, recorder.Body.Bytes()); code != errorInvalidQuery {
			test.Fatalf("expected code %q, got %q", errorInvalidQuery, code)
		}
	}
}

func TestUseCouponUnknownCode(test *testing.T) {
	test.Parallel()
	server, _ := newTestServer(test)
	router := server.Router()
	token := signTestToken(test, "caller-1")

	recorder := doJSON(test, router, token, http.MethodPost, "/api/coupons/ghost/use", "")
	if recorder.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d", recorder.Code)
	}
	if code := decodeErrorCode(test, recorder.Body.Bytes()); code != errorCouponNotFound {
		test.Fatalf("expected code %q, got %q", errorCouponNotFound, code)
	}
}

func TestAdvantageCRUDRequiresCompany(test *testing.T) {
	test.Parallel()
	server, store := newTestServer(test)
	router := server.Router()
	token := signTestToken(test, "caller-1")
	store.mustAddAccount(test, "student-1", coin.OwnerStudent, 0)

	body := `{"description":"Free slice","cost":"5.00"}`
	recorder := doJSON(test, router, token, http.MethodPost, "/api/companies/student-1/advantages", body)
	if recorder.Code != http.StatusForbidden {
		test.Fatalf("expected 403, got %d", recorder.Code)
	}
	if code := decodeErrorCode(test, recorder.Body.Bytes()); code != errorNotCompany {
		test.Fatalf("expected code %q, got %q", errorNotCompany, code)
	}
}

func TestAdvantageLifecycle(test *testing.T) {
	test.Parallel()
	server, store := newTestServer(test)
	router := server.Router()
	token := signTestToken(test, "caller-1")
	store.mustAddAccount(test, "company-1", coin.OwnerCompany, 0)

	body := `{"description":"Free slice","cost":"5.00"}`
	recorder := doJSON(test, router, token, http.MethodPost, "/api/companies/company-1/advantages", body)
	if recorder.Code != http.StatusCreated {
		test.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var created advantagePayload
	mustDecode(test, recorder.Body.Bytes(), &created)
	if created.Cost != "5.00" {
		test.Fatalf("expected cost 5.00, got %q", created.Cost)
	}

	recorder = doJSON(test, router, token, http.MethodGet, "/api/advantages/"+created.AdvantageID, "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}

	recorder = doJSON(test, router, token, http.MethodDelete, "/api/companies/company-1/advantages/"+created.AdvantageID, "")
	if recorder.Code != http.StatusNoContent {
		test.Fatalf("expected 204, got %d", recorder.Code)
	}

	recorder = doJSON(test, router, token, http.MethodGet, "/api/advantages/"+created.AdvantageID, "")
	if recorder.Code != http.StatusNotFound {
		test.Fatalf("expected 404 after delete, got %d", recorder.Code)
	}
}

func newTestServer(test *testing.T) (*Server, *stubStore) {
	test.Helper()
	store := newStubStore(test)
	clock := func() int64 { return testNow }
	coinService, err := coin.NewService(store, clock)
	if err != nil {
		test.Fatalf("coin service: %v", err)
	}
	catalogService, err := catalog.NewService(store, clock)
	if err != nil {
		test.Fatalf("catalog service: %v", err)
	}
	cfg := Config{TokenSigningKey: testSigningKey, TokenIssuer: testIssuer}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("config: %v", err)
	}
	return New(cfg, zap.NewNop(), coinService, catalogService), store
}

func signTestToken(test *testing.T, subject string) string {
	test.Helper()
	claims := jwt.MapClaims{
		"iss": testIssuer,
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(test *testing.T, router http.Handler, token string, method string, path string, body string) *httptest.ResponseRecorder {
	test.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, nil)
	} else {
		request = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", bearerPrefix+token)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func mustDecode(test *testing.T, data []byte, target any) {
	test.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		test.Fatalf("decode %s: %v", string(data), err)
	}
}

func decodeErrorCode(test *testing.T, data []byte) string {
	test.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	mustDecode(test, data, &payload)
	return payload.Error.Code
}

// stubStore implements both the coin and catalog persistence contracts in
// memory, enough for exercising the HTTP layer end to end.
type stubStore struct {
	accounts     map[coin.AccountID]coin.Account
	advantages   map[coin.AdvantageID]coin.Advantage
	coupons      map[coin.CouponCode]coin.Coupon
	transactions []coin.TransactionInput
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts:   make(map[coin.AccountID]coin.Account),
		advantages: make(map[coin.AdvantageID]coin.Advantage),
		coupons:    make(map[coin.CouponCode]coin.Coupon),
	}
}

func (store *stubStore) mustAddAccount(test *testing.T, id string, kind coin.OwnerKind, balance int64) coin.AccountID {
	test.Helper()
	accountID, err := coin.NewAccountID(id)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	balanceCents, err := coin.NewBalanceCents(balance)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	store.accounts[accountID] = coin.Account{
		AccountID:      accountID,
		OwnerKind:      kind,
		DisplayName:    id,
		BalanceCents:   balanceCents,
		CreatedUnixUTC: testNow,
	}
	return accountID
}

func (store *stubStore) mustBalance(test *testing.T, accountID coin.AccountID) int64 {
	test.Helper()
	account, ok := store.accounts[accountID]
	if !ok {
		test.Fatalf("unknown account %s", accountID)
	}
	return account.BalanceCents.Int64()
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore coin.Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) CreateAccount(ctx context.Context, account coin.Account) error {
	store.accounts[account.AccountID] = account
	return nil
}

func (store *stubStore) GetAccount(ctx context.Context, accountID coin.AccountID) (coin.Account, error) {
	account, ok := store.accounts[accountID]
	if !ok {
		return coin.Account{}, coin.ErrAccountNotFound
	}
	return account, nil
}

func (store *stubStore) GetAccountForUpdate(ctx context.Context, accountID coin.AccountID) (coin.Account, error) {
	return store.GetAccount(ctx, accountID)
}

func (store *stubStore) SetBalance(ctx context.Context, accountID coin.AccountID, from coin.BalanceCents, to coin.BalanceCents) error {
	account, ok := store.accounts[accountID]
	if !ok {
		return coin.ErrAccountNotFound
	}
	if account.BalanceCents != from {
		return coin.ErrConsistencyViolation
	}
	account.BalanceCents = to
	store.accounts[accountID] = account
	return nil
}

func (store *stubStore) AppendTransaction(ctx context.Context, input coin.TransactionInput) error {
	store.transactions = append(store.transactions, input)
	return nil
}

func (store *stubStore) ListTransactionsByAccount(ctx context.Context, accountID coin.AccountID, beforeUnixUTC int64, limit int) ([]coin.TransactionRecord, error) {
	return nil, nil
}

func (store *stubStore) ListTransactionsByKind(ctx context.Context, kind coin.TransactionKind, beforeUnixUTC int64, limit int) ([]coin.TransactionRecord, error) {
	return nil, nil
}

func (store *stubStore) GetAdvantage(ctx context.Context, advantageID coin.AdvantageID) (coin.Advantage, error) {
	advantage, ok := store.advantages[advantageID]
	if !ok {
		return coin.Advantage{}, coin.ErrAdvantageNotFound
	}
	return advantage, nil
}

func (store *stubStore) CreateCoupon(ctx context.Context, coupon coin.Coupon) error {
	store.coupons[coupon.Code] = coupon
	return nil
}

func (store *stubStore) GetCouponForUpdate(ctx context.Context, code coin.CouponCode) (coin.Coupon, error) {
	coupon, ok := store.coupons[code]
	if !ok {
		return coin.Coupon{}, coin.ErrCouponNotFound
	}
	return coupon, nil
}

func (store *stubStore) MarkCouponUsed(ctx context.Context, code coin.CouponCode, usedAtUnixUTC int64) error {
	coupon, ok := store.coupons[code]
	if !ok || coupon.Used {
		return coin.ErrConsistencyViolation
	}
	coupon.Used = true
	coupon.UsedAtUnixUTC = usedAtUnixUTC
	store.coupons[code] = coupon
	return nil
}

func (store *stubStore) CreateAdvantage(ctx context.Context, advantage coin.Advantage) error {
	store.advantages[advantage.AdvantageID] = advantage
	return nil
}

func (store *stubStore) UpdateAdvantage(ctx context.Context, advantage coin.Advantage) error {
	existing, ok := store.advantages[advantage.AdvantageID]
	if !ok || existing.CompanyID != advantage.CompanyID {
		return coin.ErrAdvantageNotFound
	}
	existing.Description = advantage.Description
	existing.CostCents = advantage.CostCents
	existing.UpdatedUnixUTC = advantage.UpdatedUnixUTC
	store.advantages[advantage.AdvantageID] = existing
	return nil
}

func (store *stubStore) DeleteAdvantage(ctx context.Context, companyID coin.CompanyID, advantageID coin.AdvantageID) error {
	existing, ok := store.advantages[advantageID]
	if !ok || existing.CompanyID != companyID {
		return coin.ErrAdvantageNotFound
	}
	delete(store.advantages, advantageID)
	return nil
}

func (store *stubStore) ListAdvantages(ctx context.Context, beforeUnixUTC int64, limit int) ([]coin.Advantage, error) {
	out := make([]coin.Advantage, 0, len(store.advantages))
	for _, advantage := range store.advantages {
		out = append(out, advantage)
	}
	return out, nil
}

func (store *stubStore) ListAdvantagesByCompany(ctx context.Context, companyID coin.CompanyID, beforeUnixUTC int64, limit int) ([]coin.Advantage, error) {
	out := make([]coin.Advantage, 0, len(store.advantages))
	for _, advantage := range store.advantages {
		if advantage.CompanyID == companyID {
			out = append(out, advantage)
		}
	}
	return out, nil
}
