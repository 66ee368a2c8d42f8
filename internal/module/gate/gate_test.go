package gate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/notecompanion/server/internal/adapter/outbound/keyverify"
	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/shared/logger"
	"github.com/notecompanion/server/internal/shared/middleware"
)

const (
	testAPIKey      = "sk-0123456789abcdef0123456789abcdef0123456789abcdef"
	testAccessToken = "session-token"
	testUserID      = "user-1"
)

// --- Mocks ---

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, key string) (*keyverify.VerifyResult, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*keyverify.VerifyResult), args.Error(1)
}

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) ResolveSession(token string) (string, error) {
	args := m.Called(token)
	return args.String(0), args.Error(1)
}

type mockKeys struct {
	mock.Mock
}

func (m *mockKeys) ResolveAPIKey(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) EnsureRecord(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockLedger) Get(ctx context.Context, userID string) (*model.UserUsage, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UserUsage), args.Error(1)
}

func activeUsage() *model.UserUsage {
	return &model.UserUsage{
		UserID:             testUserID,
		TokenUsage:         1000,
		MaxTokenUsage:      model.DefaultMaxTokenUsage,
		AudioMinutesUsed:   0,
		MaxAudioMinutes:    model.DefaultMaxAudioMinutes,
		SubscriptionStatus: model.AccountStatusActive,
		PaymentStatus:      model.PaymentStatusPaid,
		BillingCycle:       model.BillingCycleMonthly,
	}
}

func newGate(verifier *mockVerifier, sessions *mockSessions, keys *mockKeys, ledger *mockLedger) *Gate {
	var v keyverify.Verifier
	if verifier != nil {
		v = verifier
	}
	return New(v, sessions, keys, ledger, nil, logger.NewNop())
}

// --- Authorize ---

func TestAuthorize_APIKey(t *testing.T) {
	verifier := new(mockVerifier)
	ledger := new(mockLedger)
	g := newGate(verifier, new(mockSessions), new(mockKeys), ledger)

	verifier.On("Verify", mock.Anything, testAPIKey).
		Return(&keyverify.VerifyResult{Valid: true, UserID: testUserID}, nil)
	ledger.On("EnsureRecord", mock.Anything, testUserID).Return(nil)
	ledger.On("Get", mock.Anything, testUserID).Return(activeUsage(), nil)

	decision, appErr := g.Authorize(context.Background(), testAPIKey, model.ResourceToken)
	require.Nil(t, appErr)
	assert.Equal(t, testUserID, decision.UserID)
	assert.False(t, decision.Quota.Exhausted)
}

func TestAuthorize_EmptyCredential(t *testing.T) {
	g := newGate(nil, new(mockSessions), new(mockKeys), new(mockLedger))

	_, appErr := g.Authorize(context.Background(), "", model.ResourceToken)
	require.NotNil(t, appErr)
	assert.Equal(t, "AUTH_FAILED", appErr.Code)
	assert.Equal(t, http.StatusUnauthorized, appErr.StatusCode)
}

func TestAuthorize_SessionFallbackWhenKeyInvalid(t *testing.T) {
	verifier := new(mockVerifier)
	sessions := new(mockSessions)
	keys := new(mockKeys)
	ledger := new(mockLedger)
	g := newGate(verifier, sessions, keys, ledger)

	verifier.On("Verify", mock.Anything, testAPIKey).
		Return(&keyverify.VerifyResult{Valid: false}, nil)
	sessions.On("ResolveSession", testAPIKey).Return(testUserID, nil)
	ledger.On("EnsureRecord", mock.Anything, testUserID).Return(nil)
	ledger.On("Get", mock.Anything, testUserID).Return(activeUsage(), nil)

	decision, appErr := g.Authorize(context.Background(), testAPIKey, model.ResourceToken)
	require.Nil(t, appErr)
	assert.Equal(t, testUserID, decision.UserID)

	// A definitive "invalid" must not hit the local key table.
	keys.AssertNotCalled(t, "ResolveAPIKey", mock.Anything, mock.Anything)
}

func TestAuthorize_LocalLookupWhenVerifierUnavailable(t *testing.T) {
	verifier := new(mockVerifier)
	keys := new(mockKeys)
	ledger := new(mockLedger)
	g := newGate(verifier, new(mockSessions), keys, ledger)

	verifier.On("Verify", mock.Anything, testAPIKey).Return(nil, keyverify.ErrUnavailable)
	keys.On("ResolveAPIKey", mock.Anything, testAPIKey).Return(testUserID, nil)
	ledger.On("EnsureRecord", mock.Anything, testUserID).Return(nil)
	ledger.On("Get", mock.Anything, testUserID).Return(activeUsage(), nil)

	decision, appErr := g.Authorize(context.Background(), testAPIKey, model.ResourceToken)
	require.Nil(t, appErr)
	assert.Equal(t, testUserID, decision.UserID)
}

func TestAuthorize_SessionToken(t *testing.T) {
	sessions := new(mockSessions)
	ledger := new(mockLedger)
	g := newGate(nil, sessions, new(mockKeys), ledger)

	sessions.On("ResolveSession", testAccessToken).Return(testUserID, nil)
	ledger.On("EnsureRecord", mock.Anything, testUserID).Return(nil)
	ledger.On("Get", mock.Anything, testUserID).Return(activeUsage(), nil)

	decision, appErr := g.Authorize(context.Background(), testAccessToken, model.ResourceToken)
	require.Nil(t, appErr)
	assert.Equal(t, testUserID, decision.UserID)
}

func TestAuthorize_BothSchemesFail(t *testing.T) {
	sessions := new(mockSessions)
	ledger := new(mockLedger)
	g := newGate(nil, sessions, new(mockKeys), ledger)

	sessions.On("ResolveSession", "garbage").Return("", assert.AnError)

	_, appErr := g.Authorize(context.Background(), "garbage", model.ResourceToken)
	require.NotNil(t, appErr)
	assert.Equal(t, "AUTH_FAILED", appErr.Code)
	ledger.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestAuthorize_SubscriptionBeforeQuota(t *testing.T) {
	sessions := new(mockSessions)
	ledger := new(mockLedger)
	g := newGate(nil, sessions, new(mockKeys), ledger)

	// Inactive subscription and exhausted quota at the same time: the
	// subscription error wins.
	rec := activeUsage()
	rec.SubscriptionStatus = model.AccountStatusCanceled
	rec.TokenUsage = rec.MaxTokenUsage

	sessions.On("ResolveSession", testAccessToken).Return(testUserID, nil)
	ledger.On("EnsureRecord", mock.Anything, testUserID).Return(nil)
	ledger.On("Get", mock.Anything, testUserID).Return(rec, nil)

	_, appErr := g.Authorize(context.Background(), testAccessToken, model.ResourceToken)
	require.NotNil(t, appErr)
	assert.Equal(t, "SUBSCRIPTION_INACTIVE", appErr.Code)
	assert.Equal(t, http.StatusForbidden, appErr.StatusCode)
}

func TestAuthorize_QuotaExceeded(t *testing.T) {
	sessions := new(mockSessions)
	ledger := new(mockLedger)
	g := newGate(nil, sessions, new(mockKeys), ledger)

	rec := activeUsage()
	rec.TokenUsage = rec.MaxTokenUsage

	sessions.On("ResolveSession", testAccessToken).Return(testUserID, nil)
	ledger.On("EnsureRecord", mock.Anything, testUserID).Return(nil)
	ledger.On("Get", mock.Anything, testUserID).Return(rec, nil)

	_, appErr := g.Authorize(context.Background(), testAccessToken, model.ResourceToken)
	require.NotNil(t, appErr)
	assert.Equal(t, "QUOTA_EXCEEDED", appErr.Code)
	assert.Equal(t, http.StatusTooManyRequests, appErr.StatusCode)
}

func TestAuthorize_AudioQuotaIndependentOfTokens(t *testing.T) {
	sessions := new(mockSessions)
	ledger := new(mockLedger)
	g := newGate(nil, sessions, new(mockKeys), ledger)

	rec := activeUsage()
	rec.AudioMinutesUsed = rec.MaxAudioMinutes

	sessions.On("ResolveSession", testAccessToken).Return(testUserID, nil)
	ledger.On("EnsureRecord", mock.Anything, testUserID).Return(nil)
	ledger.On("Get", mock.Anything, testUserID).Return(rec, nil)

	// Token requests still pass.
	_, appErr := g.Authorize(context.Background(), testAccessToken, model.ResourceToken)
	require.Nil(t, appErr)

	// Audio requests do not.
	_, appErr = g.Authorize(context.Background(), testAccessToken, model.ResourceAudioMinute)
	require.NotNil(t, appErr)
	assert.Equal(t, "QUOTA_EXCEEDED", appErr.Code)
}

func TestAuthorize_UsageReadFailure(t *testing.T) {
	sessions := new(mockSessions)
	ledger := new(mockLedger)
	g := newGate(nil, sessions, new(mockKeys), ledger)

	sessions.On("ResolveSession", testAccessToken).Return(testUserID, nil)
	ledger.On("EnsureRecord", mock.Anything, testUserID).Return(nil)
	ledger.On("Get", mock.Anything, testUserID).Return(nil, assert.AnError)

	_, appErr := g.Authorize(context.Background(), testAccessToken, model.ResourceToken)
	require.NotNil(t, appErr)
	assert.Equal(t, "USAGE_CHECK_FAILED", appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode)
}

func TestAuthorize_EnsureRecordFailure(t *testing.T) {
	sessions := new(mockSessions)
	ledger := new(mockLedger)
	g := newGate(nil, sessions, new(mockKeys), ledger)

	sessions.On("ResolveSession", testAccessToken).Return(testUserID, nil)
	ledger.On("EnsureRecord", mock.Anything, testUserID).Return(assert.AnError)

	_, appErr := g.Authorize(context.Background(), testAccessToken, model.ResourceToken)
	require.NotNil(t, appErr)
	assert.Equal(t, "USAGE_CHECK_FAILED", appErr.Code)
}

// --- Middleware ---

func TestMiddleware_SetsUserAndDecision(t *testing.T) {
	gin.SetMode(gin.TestMode)

	sessions := new(mockSessions)
	ledger := new(mockLedger)
	g := newGate(nil, sessions, new(mockKeys), ledger)

	sessions.On("ResolveSession", testAccessToken).Return(testUserID, nil)
	ledger.On("EnsureRecord", mock.Anything, testUserID).Return(nil)
	ledger.On("Get", mock.Anything, testUserID).Return(activeUsage(), nil)

	router := gin.New()
	router.Use(g.Middleware(model.ResourceToken))
	router.GET("/protected", func(c *gin.Context) {
		userID, ok := middleware.GetUserID(c)
		require.True(t, ok)
		decision, ok := DecisionFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "remaining": decision.Quota.Remaining})
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+testAccessToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), testUserID)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	g := newGate(nil, new(mockSessions), new(mockKeys), new(mockLedger))

	router := gin.New()
	router.Use(g.Middleware(model.ResourceToken))
	router.GET("/protected", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_FAILED")
}
