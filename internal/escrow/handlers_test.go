package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupTestRouter() (*gin.Engine, *Service) {
	gin.SetMode(gin.TestMode)

	svc := NewService(NewMemoryStore(), testLogger())
	handler := NewHandler(svc)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)
	handler.RegisterAdminRoutes(v1.Group("/admin"))

	return r, svc
}

func doJSON(router *gin.Engine, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type txResponse struct {
	Transaction Transaction `json:"transaction"`
}

func TestHandler_FullFlow(t *testing.T) {
	router, _ := setupTestRouter()

	w := doJSON(router, "POST", "/v1/escrows", "ana", CreateRequest{
		ProductRef: "prod_1",
		Title:      "Silla gamer",
		SellerID:   "beto",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created txResponse
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	code := created.Transaction.Code
	if created.Transaction.Status != StatusHeld {
		t.Errorf("Expected held, got %s", created.Transaction.Status)
	}
	// With no explicit buyer the acting identity takes the role.
	if created.Transaction.BuyerID != "ana" {
		t.Errorf("Expected buyer ana, got %q", created.Transaction.BuyerID)
	}

	w = doJSON(router, "POST", "/v1/escrows/"+code+"/ship", "beto", ShipRequest{Tracking: "MX9"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, "POST", "/v1/escrows/"+code+"/deliver", "ana", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, "POST", "/v1/escrows/"+code+"/release", "ana", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var released txResponse
	_ = json.Unmarshal(w.Body.Bytes(), &released)
	if released.Transaction.Status != StatusReleased {
		t.Errorf("Expected released, got %s", released.Transaction.Status)
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	router, _ := setupTestRouter()

	w := doJSON(router, "POST", "/v1/escrows", "ana", map[string]string{"productRef": "prod_1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing title, got %d", w.Code)
	}

	w = doJSON(router, "POST", "/v1/escrows", "ana", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty body, got %d", w.Code)
	}
}

func TestHandler_NotFound(t *testing.T) {
	router, _ := setupTestRouter()

	w := doJSON(router, "GET", "/v1/escrows/esc_nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}

	w = doJSON(router, "POST", "/v1/escrows/esc_nope/deliver", "ana", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestHandler_InvalidTransitionConflict(t *testing.T) {
	router, svc := setupTestRouter()

	tx := createHeld(t, svc, "ana", "beto")
	if _, err := svc.ConfirmShipment(context.Background(), tx.Code, "beto", "MX1"); err != nil {
		t.Fatalf("ConfirmShipment failed: %v", err)
	}

	w := doJSON(router, "POST", "/v1/escrows/"+tx.Code+"/ship", "beto", ShipRequest{Tracking: "MX2"})
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Error     string `json:"error"`
		From      Status `json:"from"`
		Requested Status `json:"requested"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error != "invalid_transition" {
		t.Errorf("Expected invalid_transition, got %q", resp.Error)
	}
	if resp.From != StatusShipped || resp.Requested != StatusShipped {
		t.Errorf("Expected from=shipped requested=shipped, got %s/%s", resp.From, resp.Requested)
	}
}

func TestHandler_Forbidden(t *testing.T) {
	router, svc := setupTestRouter()

	tx := createHeld(t, svc, "ana", "beto")

	w := doJSON(router, "POST", "/v1/escrows/"+tx.Code+"/ship", "carla", ShipRequest{Tracking: "MX1"})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for stranger, got %d", w.Code)
	}

	w = doJSON(router, "POST", "/v1/escrows/"+tx.Code+"/deliver", "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for anonymous, got %d", w.Code)
	}
}

func TestHandler_ListAndFilter(t *testing.T) {
	router, svc := setupTestRouter()

	createHeld(t, svc, "ana", "beto")
	createHeld(t, svc, "carla", "beto")

	w := doJSON(router, "GET", "/v1/escrows", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Transactions []Transaction `json:"transactions"`
		Count        int           `json:"count"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Errorf("Expected 2 transactions, got %d", resp.Count)
	}

	w = doJSON(router, "GET", "/v1/escrows?buyerId=ana", "", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Errorf("Expected 1 transaction for ana, got %d", resp.Count)
	}

	w = doJSON(router, "GET", "/v1/escrows?status=pending", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown status, got %d", w.Code)
	}
}

func TestHandler_Remaining(t *testing.T) {
	router, svc := setupTestRouter()

	tx := createHeld(t, svc, "ana", "beto")

	w := doJSON(router, "GET", "/v1/escrows/"+tx.Code+"/remaining", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Remaining Countdown `json:"remaining"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Remaining.Zero() {
		t.Error("Expected a live countdown on a fresh transaction")
	}
}

func TestHandler_Messages(t *testing.T) {
	router, svc := setupTestRouter()

	tx := createHeld(t, svc, "ana", "beto")

	w := doJSON(router, "POST", "/v1/escrows/"+tx.Code+"/messages", "ana", MessageRequest{Text: "¿Sigue disponible?"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp txResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Transaction.Messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(resp.Transaction.Messages))
	}

	w = doJSON(router, "POST", "/v1/escrows/"+tx.Code+"/messages", "ana", MessageRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty text, got %d", w.Code)
	}
}

func TestHandler_AdminResolve(t *testing.T) {
	router, svc := setupTestRouter()

	tx := createHeld(t, svc, "ana", "beto")
	if _, err := svc.OpenDispute(context.Background(), tx.Code, "ana", "no llegó"); err != nil {
		t.Fatalf("OpenDispute failed: %v", err)
	}

	w := doJSON(router, "POST", "/v1/admin/escrows/"+tx.Code+"/resolve", "", ResolveRequest{Resolution: "refund"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown resolution, got %d", w.Code)
	}

	w = doJSON(router, "POST", "/v1/admin/escrows/"+tx.Code+"/resolve", "", ResolveRequest{Resolution: "cancel"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp txResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Transaction.Status != StatusCancelled {
		t.Errorf("Expected cancelled, got %s", resp.Transaction.Status)
	}
}

func TestHandler_AdminAbandonAndCancel(t *testing.T) {
	router, svc := setupTestRouter()

	a := createHeld(t, svc, "ana", "beto")
	w := doJSON(router, "POST", "/v1/admin/escrows/"+a.Code+"/abandon", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Terminal state rejects further administration.
	w = doJSON(router, "POST", "/v1/admin/escrows/"+a.Code+"/cancel", "", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
}
