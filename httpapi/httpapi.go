// Package httpapi is the thin chi-routed HTTP adapter wiring every
// engine to a route: ambient and out-of-scope per the spec's component
// table, but required for a runnable binary.
//
// Grounded on the reference's handlers/*.go + server/router.go, keeping
// its response-envelope and chi middleware stack while replacing every
// handler body with calls into this repo's engines instead of the
// reference's repository layer.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"server-backend/apperr"
	"server-backend/armyengine"
	"server-backend/auth"
	"server-backend/buildingengine"
	"server-backend/gateway"
	"server-backend/goldengine"
	"server-backend/marketengine"
	appmiddleware "server-backend/middleware"
	"server-backend/models"
	"server-backend/resourceengine"
	"server-backend/store"
	"server-backend/trainingengine"
)

type Server struct {
	store      store.Store
	resources  *resourceengine.Engine
	buildings  *buildingengine.Engine
	training   *trainingengine.Engine
	army       *armyengine.Engine
	market     *marketengine.Engine
	gold       *goldengine.Engine
	gateway    *gateway.Gateway
	jwtManager *auth.JWTManager
	logger     *zap.Logger
}

func New(
	s store.Store,
	resources *resourceengine.Engine,
	buildings *buildingengine.Engine,
	training *trainingengine.Engine,
	army *armyengine.Engine,
	market *marketengine.Engine,
	gold *goldengine.Engine,
	gw *gateway.Gateway,
	jwtManager *auth.JWTManager,
	logger *zap.Logger,
) *Server {
	return &Server{
		store: s, resources: resources, buildings: buildings, training: training,
		army: army, market: market, gold: gold, gateway: gw, jwtManager: jwtManager, logger: logger,
	}
}

// Router assembles the chi mux: CORS + the reference's standard
// middleware stack, public auth routes, the WebSocket upgrade, and
// authenticated engine routes under /api.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmiddleware.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/payments/webhook", s.handlePaymentWebhook)
	r.Get("/ws", s.gateway.HandleUpgrade)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Post("/api/villages", s.handleCreateVillage)
		r.Get("/api/villages", s.handleListVillages)

		r.Post("/api/villages/{villageID}/buildings/{slot}/upgrade", s.handleStartUpgrade)
		r.Post("/api/buildings/{buildingID}/finish-now", s.handleFinishNowBuilding)

		r.Post("/api/villages/{villageID}/training", s.handleEnqueueTraining)
		r.Post("/api/training/{entryID}/cancel", s.handleCancelTraining)
		r.Post("/api/training/{entryID}/finish-now", s.handleFinishNowTraining)

		r.Post("/api/armies/dispatch", s.handleDispatchArmy)

		r.Post("/api/market/orders", s.handleCreateOrder)
		r.Post("/api/market/orders/{orderID}/accept", s.handleAcceptOrder)
		r.Post("/api/market/orders/{orderID}/cancel", s.handleCancelOrder)

		r.Post("/api/shop/checkout", s.handleCreateCheckout)
		r.Post("/api/shop/npc-merchant", s.handleNPCMerchant)
		r.Post("/api/shop/production-bonus", s.handleProductionBonus)
		r.Post("/api/shop/book-of-wisdom", s.handleBookOfWisdom)
		r.Post("/api/shop/plus-subscription", s.handlePlusSubscription)
	})

	return r
}

type userIDKey struct{}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, apperr.Unauthenticatedf("missing or malformed Authorization header"))
			return
		}
		claims, err := s.jwtManager.VerifyToken(header[len(prefix):])
		if err != nil {
			writeError(w, err)
			return
		}
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			writeError(w, apperr.Unauthenticatedf("invalid token subject"))
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userIDFrom reads the authenticated user's ID stashed by requireAuth.
// Only called from within the authenticated route group, where it is
// always present.
func userIDFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userIDKey{}).(uuid.UUID)
	return id
}

// ---- response helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	default:
		switch apperr.KindOf(err) {
		case apperr.Unauthenticated:
			status = http.StatusUnauthorized
		case apperr.Forbidden:
			status = http.StatusForbidden
		case apperr.NotFound:
			status = http.StatusNotFound
		case apperr.BadRequest:
			status = http.StatusBadRequest
		case apperr.Conflict:
			status = http.StatusConflict
		default:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.BadRequestf("invalid request body: %v", err)
	}
	return nil
}

func parseSlot(r *http.Request) (int, error) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		return 0, apperr.BadRequestf("invalid slot")
	}
	return slot, nil
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.BadRequestf("invalid %s", name)
	}
	return id, nil
}

// ---- auth handlers ----

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  *models.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, apperr.BadRequestf("username and password are required"))
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	user := models.NewUser(req.Username, hash, req.Email)
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}
	token, err := s.jwtManager.GenerateToken(user.ID.String(), user.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, apperr.Unauthenticatedf("invalid username or password"))
		return
	}
	if !auth.CheckPasswordHash(req.Password, user.Password) {
		writeError(w, apperr.Unauthenticatedf("invalid username or password"))
		return
	}
	token, err := s.jwtManager.GenerateToken(user.ID.String(), user.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// ---- payment webhook ----

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var buf [1 << 20]byte
	n, _ := r.Body.Read(buf[:])
	payload := buf[:n]
	sigHeader := r.Header.Get("X-Payment-Signature")
	if err := s.gold.VerifyWebhookSignature(payload, sigHeader, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	var event struct {
		Type string `json:"type"`
		Data struct {
			SessionRef string `json:"session_ref"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		writeError(w, apperr.BadRequestf("invalid webhook payload"))
		return
	}
	var err error
	switch event.Type {
	case "checkout.session.completed":
		err = s.gold.CompletePayment(r.Context(), event.Data.SessionRef, time.Now().UTC())
	case "checkout.session.expired":
		err = s.gold.FailPayment(r.Context(), event.Data.SessionRef)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---- villages ----

type createVillageRequest struct {
	Name string `json:"name"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

func (s *Server) handleCreateVillage(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	var req createVillageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	taken, err := s.store.CoordinatesTaken(r.Context(), req.X, req.Y)
	if err != nil {
		writeError(w, err)
		return
	}
	if taken {
		writeError(w, apperr.Conflictf("coordinates (%d,%d) are already occupied", req.X, req.Y))
		return
	}
	villages, err := s.store.ListVillagesByOwner(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	now := time.Now().UTC()
	v := &models.Village{
		ID: uuid.New(), OwnerID: userID, Name: req.Name, X: req.X, Y: req.Y,
		IsCapital: len(villages) == 0,
		Wood:      750, Clay: 750, Iron: 750, Crop: 750,
		WarehouseCapacity: 1000, GranaryCapacity: 1000,
		ResourcesUpdatedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.store.CreateVillage(r.Context(), v); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleListVillages(w http.ResponseWriter, r *http.Request) {
	villages, err := s.store.ListVillagesByOwner(r.Context(), userIDFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, villages)
}

// ---- buildings ----

type startUpgradeRequest struct {
	RequestedType string `json:"requested_type"`
}

func (s *Server) handleStartUpgrade(w http.ResponseWriter, r *http.Request) {
	villageID, err := parseUUIDParam(r, "villageID")
	if err != nil {
		writeError(w, err)
		return
	}
	slot, err := parseSlot(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req startUpgradeRequest
	_ = decodeJSON(r, &req)
	b, err := s.buildings.StartUpgrade(r.Context(), villageID, slot, req.RequestedType, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleFinishNowBuilding(w http.ResponseWriter, r *http.Request) {
	buildingID, err := parseUUIDParam(r, "buildingID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.gold.FinishNow(r.Context(), userIDFrom(r), goldengine.FinishNowBuilding, buildingID, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---- training ----

type enqueueTrainingRequest struct {
	TroopType string `json:"troop_type"`
	Count     int    `json:"count"`
}

func (s *Server) handleEnqueueTraining(w http.ResponseWriter, r *http.Request) {
	villageID, err := parseUUIDParam(r, "villageID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req enqueueTrainingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.training.Enqueue(r.Context(), villageID, req.TroopType, req.Count, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleCancelTraining(w http.ResponseWriter, r *http.Request) {
	entryID, err := parseUUIDParam(r, "entryID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.training.Cancel(r.Context(), entryID, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleFinishNowTraining(w http.ResponseWriter, r *http.Request) {
	entryID, err := parseUUIDParam(r, "entryID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.gold.FinishNow(r.Context(), userIDFrom(r), goldengine.FinishNowTraining, entryID, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---- army ----

type dispatchArmyRequest struct {
	SourceVillageID string           `json:"source_village_id"`
	DestVillageID   string           `json:"dest_village_id"`
	Mission         models.MissionType `json:"mission"`
	Troops          map[string]int   `json:"troops"`
}

func (s *Server) handleDispatchArmy(w http.ResponseWriter, r *http.Request) {
	var req dispatchArmyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sourceID, err := uuid.Parse(req.SourceVillageID)
	if err != nil {
		writeError(w, apperr.BadRequestf("invalid source_village_id"))
		return
	}
	destID, err := uuid.Parse(req.DestVillageID)
	if err != nil {
		writeError(w, apperr.BadRequestf("invalid dest_village_id"))
		return
	}
	m, err := s.army.Dispatch(r.Context(), sourceID, destID, req.Mission, req.Troops, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ---- market ----

type createOrderRequest struct {
	VillageID      string          `json:"village_id"`
	Side           models.OrderSide `json:"side"`
	ResourceType   string          `json:"resource_type"`
	Quantity       int             `json:"quantity"`
	PricePerUnit   int             `json:"price_per_unit"`
	ExpiresInHours int             `json:"expires_in_hours"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	villageID, err := uuid.Parse(req.VillageID)
	if err != nil {
		writeError(w, apperr.BadRequestf("invalid village_id"))
		return
	}
	order, err := s.market.CreateOrder(r.Context(), userIDFrom(r), villageID, req.Side, req.ResourceType, req.Quantity, req.PricePerUnit, req.ExpiresInHours, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

type acceptOrderRequest struct {
	AcceptorVillageID string `json:"acceptor_village_id"`
	Quantity          int    `json:"quantity"`
}

func (s *Server) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseUUIDParam(r, "orderID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req acceptOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	acceptorVillageID, err := uuid.Parse(req.AcceptorVillageID)
	if err != nil {
		writeError(w, apperr.BadRequestf("invalid acceptor_village_id"))
		return
	}
	order, err := s.market.Accept(r.Context(), orderID, userIDFrom(r), acceptorVillageID, req.Quantity, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseUUIDParam(r, "orderID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.market.Cancel(r.Context(), orderID, userIDFrom(r), time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---- shop ----

type npcMerchantRequest struct {
	VillageID string `json:"village_id"`
	Wood      int    `json:"wood"`
	Clay      int    `json:"clay"`
	Iron      int    `json:"iron"`
	Crop      int    `json:"crop"`
}

func (s *Server) handleNPCMerchant(w http.ResponseWriter, r *http.Request) {
	var req npcMerchantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	villageID, err := uuid.Parse(req.VillageID)
	if err != nil {
		writeError(w, apperr.BadRequestf("invalid village_id"))
		return
	}
	if err := s.gold.NPCMerchant(r.Context(), userIDFrom(r), villageID, req.Wood, req.Clay, req.Iron, req.Crop, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type productionBonusRequest struct {
	VillageID    string `json:"village_id"`
	ResourceType string `json:"resource_type"`
}

func (s *Server) handleProductionBonus(w http.ResponseWriter, r *http.Request) {
	var req productionBonusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	villageID, err := uuid.Parse(req.VillageID)
	if err != nil {
		writeError(w, apperr.BadRequestf("invalid village_id"))
		return
	}
	if err := s.gold.ProductionBonus(r.Context(), userIDFrom(r), villageID, req.ResourceType, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type bookOfWisdomRequest struct {
	VillageID string `json:"village_id"`
}

func (s *Server) handleBookOfWisdom(w http.ResponseWriter, r *http.Request) {
	var req bookOfWisdomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	villageID, err := uuid.Parse(req.VillageID)
	if err != nil {
		writeError(w, apperr.BadRequestf("invalid village_id"))
		return
	}
	if err := s.gold.BookOfWisdom(r.Context(), userIDFrom(r), villageID, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type createCheckoutRequest struct {
	GoldAmount int `json:"gold_amount"`
}

// handleCreateCheckout records a pending payment ahead of redirecting
// the user to an external checkout page; the payment is only credited
// once handlePaymentWebhook receives a signed confirmation for the
// returned session reference.
func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.GoldAmount <= 0 {
		writeError(w, apperr.BadRequestf("gold_amount must be positive"))
		return
	}
	sessionRef := uuid.New().String()
	txn, err := s.gold.CreatePendingPayment(r.Context(), userIDFrom(r), req.GoldAmount, sessionRef, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

type plusSubscriptionRequest struct {
	Days int `json:"days"`
}

func (s *Server) handlePlusSubscription(w http.ResponseWriter, r *http.Request) {
	var req plusSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.gold.PlusSubscription(r.Context(), userIDFrom(r), req.Days, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
