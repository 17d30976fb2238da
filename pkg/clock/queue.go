package clock

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wdfk-prog/iso14229/pkg/can"
)

// FrameQueue is the bounded single-consumer queue the driver callback
// enqueues into and the dispatch worker drains. It is the only
// multi-producer surface in the stack (spec.md §5): backpressure is a
// silent drop of the newest frame, logged at Warn, mirroring
// BusManager.Send's best-effort logged send.
type FrameQueue struct {
	frames chan can.Frame
	logger *log.Entry
}

func NewFrameQueue(capacity int) *FrameQueue {
	return &FrameQueue{
		frames: make(chan can.Frame, capacity),
		logger: log.WithField("component", "frame-queue"),
	}
}

// Send enqueues a frame without blocking. If the queue is full the frame
// is dropped and a warning is logged; the driver callback must never be
// made to block on a slow consumer.
func (q *FrameQueue) Send(frame can.Frame) {
	select {
	case q.frames <- frame:
	default:
		q.logger.Warn("frame queue full, dropping newest frame")
	}
}

// Recv blocks for up to timeoutMs for a frame. ok is false on timeout. A
// timeoutMs of 0 polls without blocking, which the dispatch worker uses
// while an ISO-TP send is in-progress to keep consecutive frames tight
// against STmin.
func (q *FrameQueue) Recv(timeoutMs uint32) (frame can.Frame, ok bool) {
	if timeoutMs == 0 {
		select {
		case frame = <-q.frames:
			return frame, true
		default:
			return can.Frame{}, false
		}
	}
	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case frame = <-q.frames:
		return frame, true
	case <-timer.C:
		return can.Frame{}, false
	}
}

// AsListener adapts the queue into a can.FrameListener so it can be
// subscribed directly to a can.Bus.
func (q *FrameQueue) AsListener() can.FrameListener {
	return can.FrameListenerFunc(q.Send)
}
