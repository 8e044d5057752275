package loads

import (
	"encoding/json"
	"time"

	"github.com/freightmatch/freight-api/internal/types"
	"github.com/freightmatch/freight-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles load postings and carrier profile management
type Service struct {
	db *Database
}

// NewService creates a new loads service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// GetDB exposes the database wrapper for collaborators that need read access
// to loads and carrier profiles.
func (s *Service) GetDB() *Database {
	return s.db
}

// PostLoad creates a new load posting owned by the given shipper.
func (s *Service) PostLoad(shipperID string, req *CreateLoadRequest) (*types.Load, error) {
	load := &types.Load{
		LoadID:        "LOAD_" + uuid.New().String(),
		ShipperID:     shipperID,
		Origin:        req.Origin,
		Destination:   req.Destination,
		EquipmentType: req.EquipmentType,
		WeightLbs:     req.WeightLbs,
		PickupDate:    req.PickupDate,
		DeliveryDate:  req.DeliveryDate,
		AskingRate:    req.AskingRate,
		Status:        types.LoadStatusPosted,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := s.db.CreateLoad(load); err != nil {
		return nil, err
	}

	log.Info().
		Str("load_id", load.LoadID).
		Str("shipper_id", shipperID).
		Str("equipment_type", load.EquipmentType).
		Str("origin", load.Origin).
		Str("destination", load.Destination).
		Msg("load posted")

	return load, nil
}

// GetLoad retrieves a load by its ID.
func (s *Service) GetLoad(loadID string) (*types.Load, error) {
	load, err := s.db.GetLoad(loadID)
	if err != nil {
		return nil, err
	}
	if load == nil {
		return nil, types.ErrNotFound
	}
	return load, nil
}

// EditLoad applies shipper edits. Permitted only while the load is still
// posted; once quoting begins the load mutates only through the state machine.
func (s *Service) EditLoad(shipperID, loadID string, req *UpdateLoadRequest) (*types.Load, error) {
	load, err := s.GetLoad(loadID)
	if err != nil {
		return nil, err
	}
	if load.ShipperID != shipperID {
		return nil, types.ErrForbidden
	}
	if load.Status != types.LoadStatusPosted {
		return nil, types.ErrInvalidTransition
	}

	fields := map[string]interface{}{"updated_at": time.Now()}
	if req.Origin != "" {
		fields["origin"] = req.Origin
	}
	if req.Destination != "" {
		fields["destination"] = req.Destination
	}
	if req.EquipmentType != "" {
		fields["equipment_type"] = req.EquipmentType
	}
	if req.WeightLbs > 0 {
		fields["weight_lbs"] = req.WeightLbs
	}
	if !req.PickupDate.IsZero() {
		fields["pickup_date"] = req.PickupDate
	}
	if !req.DeliveryDate.IsZero() {
		fields["delivery_date"] = req.DeliveryDate
	}
	if req.AskingRate > 0 {
		fields["asking_rate"] = req.AskingRate
	}

	// Conditional write: a quote landing after the read above moves the
	// load off posted and the edit is rejected instead of clobbering it.
	moved, err := s.db.UpdateLoadFieldsIf(loadID, fields)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, types.ErrInvalidTransition
	}

	return s.GetLoad(loadID)
}

// CancelLoad soft-destroys a load. Only pre-assignment statuses may cancel;
// an assigned or moving load is bound to a shipment.
func (s *Service) CancelLoad(shipperID, loadID string) (*types.Load, error) {
	load, err := s.GetLoad(loadID)
	if err != nil {
		return nil, err
	}
	if load.ShipperID != shipperID {
		return nil, types.ErrForbidden
	}

	moved, err := s.db.UpdateLoadStatusIf(loadID, types.LoadStatusCancelled, []string{
		types.LoadStatusPosted,
		types.LoadStatusMatching,
		types.LoadStatusNegotiating,
	})
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, types.ErrInvalidTransition
	}

	log.Info().
		Str("load_id", loadID).
		Str("shipper_id", shipperID).
		Msg("load cancelled")

	load.Status = types.LoadStatusCancelled
	return load, nil
}

// RegisterCarrier upserts the caller's carrier profile.
func (s *Service) RegisterCarrier(carrierID string, req *CarrierProfileRequest) (*types.CarrierProfile, error) {
	equipment, err := json.Marshal(req.EquipmentTypes)
	if err != nil {
		return nil, err
	}
	areas, err := json.Marshal(req.ServiceAreas)
	if err != nil {
		return nil, err
	}

	profile := &types.CarrierProfile{
		CarrierID:       carrierID,
		CompanyName:     req.CompanyName,
		EquipmentTypes:  string(equipment),
		ServiceAreas:    string(areas),
		InsuranceAmount: req.InsuranceAmount,
		Rating:          req.Rating,
		Active:          req.Active,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	if err := s.db.UpsertCarrier(profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// GetCarrier retrieves a carrier profile by ID.
func (s *Service) GetCarrier(carrierID string) (*types.CarrierProfile, error) {
	profile, err := s.db.GetCarrier(carrierID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, types.ErrNotFound
	}
	return profile, nil
}

// GinHandlers contains HTTP handlers for load and carrier endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for load endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateLoadHandler handles POST requests to post new loads.
// Requires a shipper-role JWT.
func (h *GinHandlers) CreateLoadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("userRole") != types.RoleShipper {
			response.Forbidden(c, "Only shippers can post loads")
			return
		}

		var req CreateLoadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		load, err := h.service.PostLoad(c.GetString("userID"), &req)
		response.Handle(c, load, err)
	}
}

// GetLoadHandler handles GET requests to retrieve a load.
func (h *GinHandlers) GetLoadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		loadID := c.Param("load_id")
		if loadID == "" {
			response.BadRequest(c, "Load ID is required")
			return
		}

		load, err := h.service.GetLoad(loadID)
		response.Handle(c, load, err)
	}
}

// UpdateLoadHandler handles PATCH requests for shipper edits while posted.
func (h *GinHandlers) UpdateLoadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateLoadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		load, err := h.service.EditLoad(c.GetString("userID"), c.Param("load_id"), &req)
		response.Handle(c, load, err)
	}
}

// CancelLoadHandler handles POST requests to cancel a load.
func (h *GinHandlers) CancelLoadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		load, err := h.service.CancelLoad(c.GetString("userID"), c.Param("load_id"))
		response.Handle(c, load, err)
	}
}

// UpsertCarrierHandler handles PUT requests to register or update the
// caller's carrier profile. Requires a carrier-role JWT.
func (h *GinHandlers) UpsertCarrierHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("userRole") != types.RoleCarrier {
			response.Forbidden(c, "Only carriers can manage carrier profiles")
			return
		}

		var req CarrierProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		profile, err := h.service.RegisterCarrier(c.GetString("userID"), &req)
		response.Handle(c, profile, err)
	}
}

// GetCarrierHandler handles GET requests for a carrier profile.
func (h *GinHandlers) GetCarrierHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, err := h.service.GetCarrier(c.Param("carrier_id"))
		response.Handle(c, profile, err)
	}
}
