// Package flow implements the durable upload workflow. It orchestrates
// validation, transformation, session brokering and the parallel upload as
// a persisted finite state machine, so an interrupted upload can be resumed
// after a process restart.
package flow

import (
	"context"

	"github.com/superfly/fsm"

	"github.com/mediaforge/uploadkit/pkg/broker"
	"github.com/mediaforge/uploadkit/pkg/engine"
	"github.com/mediaforge/uploadkit/pkg/errors"
	"github.com/mediaforge/uploadkit/pkg/store"
	"github.com/mediaforge/uploadkit/pkg/transform"
	"github.com/mediaforge/uploadkit/pkg/validate"
)

// Machine holds dependencies for FSM transitions
type Machine struct {
	validator  *validate.Validator
	worker     *transform.Worker
	broker     *broker.Client
	engine     *engine.Engine
	records    *store.Store
	workDir    string
	maxRetries int
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(
	validator *validate.Validator,
	worker *transform.Worker,
	brokerClient *broker.Client,
	uploadEngine *engine.Engine,
	records *store.Store,
	workDir string,
	maxRetries int,
) *Machine {
	return &Machine{
		validator:  validator,
		worker:     worker,
		broker:     brokerClient,
		engine:     uploadEngine,
		records:    records,
		workDir:    workDir,
		maxRetries: maxRetries,
	}
}

// Register registers the photo upload FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[UploadRequest, UploadResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[UploadRequest, UploadResponse](manager, "photo-upload").
		Start(StateValidate, m.handleValidate).
		To(StateTransform, m.handleTransform).
		To(StateRequestSession, m.handleRequestSession).
		To(StateUpload, m.handleUpload).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}
