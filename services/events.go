package services

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// NATS subjects carrying occupancy events
const (
	SubjectZonesPrefix     = "parking.zones"
	SubjectOccupancyPrefix = "parking.occupancy"
	SubjectSnapshots       = "parking.snapshots"
)

// ZonesSubject is the subject for zone-set changes of one camera
func ZonesSubject(cameraID string) string {
	return fmt.Sprintf("%s.%s", SubjectZonesPrefix, cameraID)
}

// OccupancySubject is the subject for occupancy updates of one camera
func OccupancySubject(cameraID string) string {
	return fmt.Sprintf("%s.%s", SubjectOccupancyPrefix, cameraID)
}

// Publisher is the event sink; *natsserver.EmbeddedNATS and *nats.Conn satisfy it
type Publisher interface {
	Publish(subject string, data []byte) error
}

// publishJSON is best-effort: events never fail the operation that produced them
func publishJSON(p Publisher, log *zap.Logger, subject string, v interface{}) {
	if p == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn("⚠️ Failed to encode event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.Publish(subject, data); err != nil {
		log.Warn("⚠️ Failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
