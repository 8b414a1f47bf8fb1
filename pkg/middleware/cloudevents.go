package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/hospital-supply/replenishment-service/pkg/logging"
)

// CloudEvents hsc extension context keys
const (
	ContextKeyHSCCorrelationID = "hscCorrelationId"
	ContextKeyHSCHospitalID    = "hscHospitalId"
	ContextKeyHSCProductCode   = "hscProductCode"
	ContextKeyHSCOrderID       = "hscOrderId"
)

// CloudEvents hsc extension HTTP header names
const (
	HeaderHSCCorrelationID = "X-HSC-Correlation-ID"
	HeaderHSCHospitalID    = "X-HSC-Hospital-ID"
	HeaderHSCProductCode   = "X-HSC-Product-Code"
	HeaderHSCOrderID       = "X-HSC-Order-ID"
)

// CloudEvents middleware extracts hsc CloudEvents extensions from HTTP headers
// and adds them to the request context for downstream logging and propagation.
func CloudEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderHSCCorrelationID)
		hospitalID := c.GetHeader(HeaderHSCHospitalID)
		productCode := c.GetHeader(HeaderHSCProductCode)
		orderID := c.GetHeader(HeaderHSCOrderID)

		// Set in Gin context
		if correlationID != "" {
			c.Set(ContextKeyHSCCorrelationID, correlationID)
		}
		if hospitalID != "" {
			c.Set(ContextKeyHSCHospitalID, hospitalID)
		}
		if productCode != "" {
			c.Set(ContextKeyHSCProductCode, productCode)
		}
		if orderID != "" {
			c.Set(ContextKeyHSCOrderID, orderID)
		}

		// Set in Go context for logging package
		ctx := c.Request.Context()
		if correlationID != "" {
			ctx = logging.ContextWithCorrelationID(ctx, correlationID)
		}
		if orderID != "" {
			ctx = logging.ContextWithOrderID(ctx, orderID)
		}
		c.Request = c.Request.WithContext(ctx)

		// Propagate headers in response (for tracing)
		if correlationID != "" {
			c.Header(HeaderHSCCorrelationID, correlationID)
		}
		if orderID != "" {
			c.Header(HeaderHSCOrderID, orderID)
		}

		c.Next()
	}
}

// GetHSCCorrelationID extracts the correlation ID from Gin context
func GetHSCCorrelationID(c *gin.Context) string {
	if val, exists := c.Get(ContextKeyHSCCorrelationID); exists {
		if id, ok := val.(string); ok {
			return id
		}
	}
	return ""
}

// GetHSCHospitalID extracts the hospital ID from Gin context
func GetHSCHospitalID(c *gin.Context) string {
	if val, exists := c.Get(ContextKeyHSCHospitalID); exists {
		if id, ok := val.(string); ok {
			return id
		}
	}
	return ""
}

// GetHSCProductCode extracts the product code from Gin context
func GetHSCProductCode(c *gin.Context) string {
	if val, exists := c.Get(ContextKeyHSCProductCode); exists {
		if id, ok := val.(string); ok {
			return id
		}
	}
	return ""
}

// GetHSCOrderID extracts the order ID from Gin context
func GetHSCOrderID(c *gin.Context) string {
	if val, exists := c.Get(ContextKeyHSCOrderID); exists {
		if id, ok := val.(string); ok {
			return id
		}
	}
	return ""
}

// CloudEventExtensions holds all hsc CloudEvent extension values
type CloudEventExtensions struct {
	CorrelationID string
	HospitalID    string
	ProductCode   string
	OrderID       string
}

// GetCloudEventExtensions extracts all CloudEvent extensions from Gin context
func GetCloudEventExtensions(c *gin.Context) CloudEventExtensions {
	return CloudEventExtensions{
		CorrelationID: GetHSCCorrelationID(c),
		HospitalID:    GetHSCHospitalID(c),
		ProductCode:   GetHSCProductCode(c),
		OrderID:       GetHSCOrderID(c),
	}
}

// PropagationCloudEventHeaders returns CloudEvents hsc headers for propagation to downstream services
func PropagationCloudEventHeaders(c *gin.Context) map[string]string {
	headers := make(map[string]string)

	if id := GetHSCCorrelationID(c); id != "" {
		headers[HeaderHSCCorrelationID] = id
	}
	if id := GetHSCHospitalID(c); id != "" {
		headers[HeaderHSCHospitalID] = id
	}
	if id := GetHSCProductCode(c); id != "" {
		headers[HeaderHSCProductCode] = id
	}
	if id := GetHSCOrderID(c); id != "" {
		headers[HeaderHSCOrderID] = id
	}

	return headers
}
