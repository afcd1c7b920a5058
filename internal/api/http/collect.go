package http

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptkit/internal/domain/buffer"
	"github.com/GriffinCanCode/scriptkit/internal/shared/utils"
)

// Collect accepts an event batch posted by a page buffer and forwards its
// events to the server-side sink
func (h *Handlers) Collect(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, utils.MaxBatchBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "batch too large"})
		return
	}

	var batch buffer.Batch
	if err := sonic.Unmarshal(body, &batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch"})
		return
	}
	if len(batch.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty batch"})
		return
	}
	if len(batch.Events) > utils.MaxBatchEvents {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too many events"})
		return
	}

	accepted, dropped := 0, 0
	for _, ev := range batch.Events {
		if err := utils.ValidateEventName(ev.Name); err != nil {
			dropped++
			continue
		}
		if err := utils.ValidateProps(ev.Props); err != nil {
			dropped++
			continue
		}
		if h.sink != nil {
			if err := h.sink.Enqueue(ev.Name, ev.Props); err != nil {
				h.logger.Warn("collect sink closed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collector shutting down"})
				return
			}
		}
		accepted++
	}

	h.logger.Debug("batch collected",
		zap.String("batch_id", batch.ID),
		zap.Int("accepted", accepted),
		zap.Int("dropped", dropped))

	c.JSON(http.StatusAccepted, gin.H{
		"id":       batch.ID,
		"accepted": accepted,
		"dropped":  dropped,
	})
}
