package rewards

import (
	"errors"
	"fmt"
	"time"

	"riskengine/core/events"
	"riskengine/native/authority"
	"riskengine/state"
)

var (
	// ErrUnauthorized is returned when a call lacks the required capability.
	ErrUnauthorized = errors.New("rewards: capability not authorized")

	errNilManager    = errors.New("rewards: state manager not configured")
	errActorRequired = errors.New("rewards: actor required")
	errTaskRequired  = errors.New("rewards: task key required")
)

const (
	weightsKey       = "rewards/weights"
	pointsKeyPrefix  = "rewards/points/"
	totalsKeyPrefix  = "rewards/pointsTotal/"
	epochLockPrefix  = "rewards/epoch/"
	treasuryLockName = "rewards/treasury"
)

func pointsKey(epoch uint64, actor string) string {
	return fmt.Sprintf("%s%d/%s", pointsKeyPrefix, epoch, actor)
}

func totalsKey(epoch uint64) string {
	return fmt.Sprintf("%s%d", totalsKeyPrefix, epoch)
}

func epochLockKey(epoch uint64) string {
	return fmt.Sprintf("%s%d", epochLockPrefix, epoch)
}

type storedPoints struct {
	Points uint64 `json:"points"`
}

// PointsRegistry credits maintenance work that collects no fee of its own.
// Each task key carries an admin-set weight; awarding a task adds the weight
// to the actor's balance for the current epoch and to the epoch total. A
// weight of zero disables the task, which makes awarding it a silent no-op.
type PointsRegistry struct {
	m       *state.Manager
	admin   authority.Capability
	emitter events.Emitter
	epochs  EpochConfig
}

// NewPointsRegistry wires the registry to the shared state manager. Weight
// changes require the supplied admin capability.
func NewPointsRegistry(m *state.Manager, admin authority.Capability, epochs EpochConfig) *PointsRegistry {
	return &PointsRegistry{
		m:       m,
		admin:   admin,
		emitter: events.NoopEmitter{},
		epochs:  epochs.Normalized(),
	}
}

// SetEmitter replaces the event emitter.
func (r *PointsRegistry) SetEmitter(emitter events.Emitter) {
	if r == nil || emitter == nil {
		return
	}
	r.emitter = emitter
}

// SetWeight configures the points granted per award of a task. Setting a
// weight back to zero disables the task without erasing earned points.
func (r *PointsRegistry) SetWeight(cap authority.Capability, task string, weight uint64) error {
	if r == nil || r.m == nil {
		return errNilManager
	}
	if cap != r.admin || !cap.Valid() {
		return ErrUnauthorized
	}
	if task == "" {
		return errTaskRequired
	}
	release := r.m.Lock(weightsKey)
	defer release()

	weights, err := r.weights()
	if err != nil {
		return err
	}
	weights[task] = weight
	tx := r.m.NewTx()
	tx.PutJSON(weightsKey, weights)
	return tx.Commit()
}

// Weight returns the configured weight for a task, zero when unset.
func (r *PointsRegistry) Weight(task string) (uint64, error) {
	if r == nil || r.m == nil {
		return 0, errNilManager
	}
	weights, err := r.weights()
	if err != nil {
		return 0, err
	}
	return weights[task], nil
}

func (r *PointsRegistry) weights() (map[string]uint64, error) {
	weights := make(map[string]uint64)
	if _, err := r.m.GetJSON(weightsKey, &weights); err != nil {
		return nil, err
	}
	return weights, nil
}

// Award credits the task's weight to the actor for the epoch containing now.
// It returns the points granted and the epoch they landed in; a disabled
// task grants zero and mutates nothing.
func (r *PointsRegistry) Award(actor, task string, now time.Time) (uint64, uint64, error) {
	if r == nil || r.m == nil {
		return 0, 0, errNilManager
	}
	if actor == "" {
		return 0, 0, errActorRequired
	}
	if task == "" {
		return 0, 0, errTaskRequired
	}
	epoch := r.epochs.EpochAt(now)

	weight, err := r.Weight(task)
	if err != nil {
		return 0, 0, err
	}
	if weight == 0 {
		return 0, epoch, nil
	}

	release := r.m.Lock(epochLockKey(epoch))
	defer release()

	var actorPoints, total storedPoints
	if _, err := r.m.GetJSON(pointsKey(epoch, actor), &actorPoints); err != nil {
		return 0, 0, err
	}
	if _, err := r.m.GetJSON(totalsKey(epoch), &total); err != nil {
		return 0, 0, err
	}
	actorPoints.Points += weight
	total.Points += weight

	tx := r.m.NewTx()
	tx.PutJSON(pointsKey(epoch, actor), actorPoints)
	tx.PutJSON(totalsKey(epoch), total)
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}

	r.emitter.Emit(events.PointsAwarded{
		Actor:  actor,
		Task:   task,
		Points: weight,
		Epoch:  epoch,
	}.Event())
	return weight, epoch, nil
}

// Points returns the actor's balance for an epoch.
func (r *PointsRegistry) Points(epoch uint64, actor string) (uint64, error) {
	if r == nil || r.m == nil {
		return 0, errNilManager
	}
	var stored storedPoints
	if _, err := r.m.GetJSON(pointsKey(epoch, actor), &stored); err != nil {
		return 0, err
	}
	return stored.Points, nil
}

// TotalPoints returns the remaining unclaimed points for an epoch.
func (r *PointsRegistry) TotalPoints(epoch uint64) (uint64, error) {
	if r == nil || r.m == nil {
		return 0, errNilManager
	}
	var stored storedPoints
	if _, err := r.m.GetJSON(totalsKey(epoch), &stored); err != nil {
		return 0, err
	}
	return stored.Points, nil
}
