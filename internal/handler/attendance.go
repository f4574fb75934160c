package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"scanattend/internal/attendance"
)

// ---------- Ingest ----------

type scanRequest struct {
	Barcode  scalarString `json:"barcode"`
	DeviceID scalarString `json:"device_id"`
	Secret   scalarString `json:"secret"`
}

// scalarString decodes a JSON string or number as text. Scanner firmware
// often sends numeric barcodes and device ids. Any other JSON value decodes
// as empty.
type scalarString string

func (s *scalarString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = scalarString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*s = scalarString(n.String())
		return nil
	}
	*s = ""
	return nil
}

// Ingest accepts a scan from a device. Only a body that is not JSON at all
// loses its secret and is rejected as unauthenticated.
func (h *Handler) Ingest(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req = scanRequest{}
	}
	rec, err := h.Attendance.Ingest(c.Request.Context(), attendance.Scan{
		Barcode:  string(req.Barcode),
		DeviceID: string(req.DeviceID),
		Secret:   string(req.Secret),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "record": rec})
}

// ---------- Queries ----------

func (h *Handler) ListAttendance(c *gin.Context) {
	recs, err := h.Attendance.Query(c.Request.Context(), attendance.Filter{
		Date:     c.Query("date"),
		DeviceID: c.Query("device"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *Handler) AttendanceRange(c *gin.Context) {
	recs, err := h.Attendance.QueryRange(c.Request.Context(), attendance.RangeFilter{
		Start:    c.Query("start"),
		End:      c.Query("end"),
		DeviceID: c.Query("device"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *Handler) Devices(c *gin.Context) {
	devices, err := h.Attendance.Devices(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, devices)
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.Attendance.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) DeviceActivity(c *gin.Context) {
	activity, err := h.Attendance.DeviceActivity(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, activity)
}
