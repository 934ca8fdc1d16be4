package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/evo-learning/assess-api/internal/dto"
	"github.com/evo-learning/assess-api/internal/models"
	"github.com/evo-learning/assess-api/pkg/sandbox"
)

// stubParticipationRepo is an in-memory ParticipationRepository. Slots are
// stored flat, the way the real repository preloads them.
type stubParticipationRepo struct {
	mu             sync.Mutex
	participations map[uint]models.EventParticipation
	slots          map[uint]models.SubmissionSlot
	assessments    map[uint]models.AssessmentSlot
	nextID         uint
}

func newStubParticipationRepo() *stubParticipationRepo {
	return &stubParticipationRepo{
		participations: make(map[uint]models.EventParticipation),
		slots:          make(map[uint]models.SubmissionSlot),
		assessments:    make(map[uint]models.AssessmentSlot),
	}
}

func (s *stubParticipationRepo) id() uint {
	s.nextID++
	return s.nextID
}

// add stores a participation whose SubmissionSlots/AssessmentSlots may nest
// SubSlots one level deep, flattening them like the database does.
func (s *stubParticipationRepo) add(p models.EventParticipation) models.EventParticipation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(p)
}

func (s *stubParticipationRepo) store(p models.EventParticipation) models.EventParticipation {
	if p.ID == 0 {
		p.ID = s.id()
	}
	for _, slot := range p.SubmissionSlots {
		subs := slot.SubSlots
		slot.SubSlots = nil
		slot.ID = s.id()
		slot.ParticipationID = p.ID
		s.slots[slot.ID] = slot
		for _, sub := range subs {
			parentID := slot.ID
			sub.ID = s.id()
			sub.ParticipationID = p.ID
			sub.ParentID = &parentID
			s.slots[sub.ID] = sub
		}
	}
	for _, slot := range p.AssessmentSlots {
		subs := slot.SubSlots
		slot.SubSlots = nil
		slot.ID = s.id()
		slot.ParticipationID = p.ID
		s.assessments[slot.ID] = slot
		for _, sub := range subs {
			parentID := slot.ID
			sub.ID = s.id()
			sub.ParticipationID = p.ID
			sub.ParentID = &parentID
			s.assessments[sub.ID] = sub
		}
	}
	p.SubmissionSlots = nil
	p.AssessmentSlots = nil
	s.participations[p.ID] = p
	return s.compose(p)
}

func (s *stubParticipationRepo) compose(p models.EventParticipation) models.EventParticipation {
	for _, slot := range s.slots {
		if slot.ParticipationID == p.ID {
			p.SubmissionSlots = append(p.SubmissionSlots, slot)
		}
	}
	for _, slot := range s.assessments {
		if slot.ParticipationID == p.ID {
			p.AssessmentSlots = append(p.AssessmentSlots, slot)
		}
	}
	sort.Slice(p.SubmissionSlots, func(i, j int) bool {
		return p.SubmissionSlots[i].ID < p.SubmissionSlots[j].ID
	})
	sort.Slice(p.AssessmentSlots, func(i, j int) bool {
		return p.AssessmentSlots[i].ID < p.AssessmentSlots[j].ID
	})
	return p
}

func (s *stubParticipationRepo) GetByID(ctx context.Context, id uint) (models.EventParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participations[id]
	if !ok {
		return models.EventParticipation{}, gorm.ErrRecordNotFound
	}
	return s.compose(p), nil
}

func (s *stubParticipationRepo) GetByUserAndEvent(ctx context.Context, userID, eventID uint) (models.EventParticipation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participations {
		if p.UserID == userID && p.EventID == eventID {
			return s.compose(p), nil
		}
	}
	return models.EventParticipation{}, gorm.ErrRecordNotFound
}

func (s *stubParticipationRepo) SeenExerciseIDs(ctx context.Context, userID uint) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[uint]struct{})
	ids := make([]uint, 0)
	for _, p := range s.participations {
		if p.UserID != userID {
			continue
		}
		for _, slot := range s.slots {
			if slot.ParticipationID != p.ID {
				continue
			}
			if _, ok := seen[slot.ExerciseID]; ok {
				continue
			}
			seen[slot.ExerciseID] = struct{}{}
			ids = append(ids, slot.ExerciseID)
		}
	}
	return ids, nil
}

func (s *stubParticipationRepo) Create(ctx context.Context, participation *models.EventParticipation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participations {
		if p.UserID == participation.UserID && p.EventID == participation.EventID {
			return gorm.ErrDuplicatedKey
		}
	}
	*participation = s.store(*participation)
	return nil
}

func (s *stubParticipationRepo) Update(ctx context.Context, participation *models.EventParticipation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *participation
	stored.SubmissionSlots = nil
	stored.AssessmentSlots = nil
	s.participations[participation.ID] = stored
	return nil
}

func (s *stubParticipationRepo) GetSubmissionSlot(ctx context.Context, id uint) (models.SubmissionSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return models.SubmissionSlot{}, gorm.ErrRecordNotFound
	}
	return s.withSubSlots(slot), nil
}

func (s *stubParticipationRepo) GetSubmissionSlotByNumber(ctx context.Context, participationID uint, slotNumber int) (models.SubmissionSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.slots {
		if slot.ParticipationID == participationID && slot.ParentID == nil && slot.SlotNumber == slotNumber {
			return s.withSubSlots(slot), nil
		}
	}
	return models.SubmissionSlot{}, gorm.ErrRecordNotFound
}

func (s *stubParticipationRepo) GetSubmissionSubSlot(ctx context.Context, parentID uint, slotNumber int) (models.SubmissionSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.slots {
		if slot.ParentID != nil && *slot.ParentID == parentID && slot.SlotNumber == slotNumber {
			return slot, nil
		}
	}
	return models.SubmissionSlot{}, gorm.ErrRecordNotFound
}

func (s *stubParticipationRepo) withSubSlots(slot models.SubmissionSlot) models.SubmissionSlot {
	slot.SubSlots = nil
	for _, candidate := range s.slots {
		if candidate.ParentID != nil && *candidate.ParentID == slot.ID {
			slot.SubSlots = append(slot.SubSlots, candidate)
		}
	}
	return slot
}

func (s *stubParticipationRepo) UpdateSubmissionSlot(ctx context.Context, slot *models.SubmissionSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *slot
	stored.SubSlots = nil
	s.slots[slot.ID] = stored
	return nil
}

func (s *stubParticipationRepo) GetAssessmentSlot(ctx context.Context, id uint) (models.AssessmentSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.assessments[id]
	if !ok {
		return models.AssessmentSlot{}, gorm.ErrRecordNotFound
	}
	return slot, nil
}

func (s *stubParticipationRepo) GetAssessmentSlotByNumber(ctx context.Context, participationID uint, slotNumber int) (models.AssessmentSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.assessments {
		if slot.ParticipationID == participationID && slot.ParentID == nil && slot.SlotNumber == slotNumber {
			return slot, nil
		}
	}
	return models.AssessmentSlot{}, gorm.ErrRecordNotFound
}

func (s *stubParticipationRepo) UpdateAssessmentSlot(ctx context.Context, slot *models.AssessmentSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *slot
	stored.SubSlots = nil
	s.assessments[slot.ID] = stored
	return nil
}

// stubGuard satisfies ParticipationService for services that only need the
// writability check.
type stubGuard struct {
	participation models.EventParticipation
	err           error
}

func (g *stubGuard) Create(ctx context.Context, userID, eventID uint) (dto.ParticipationResponse, error) {
	panic("not used")
}

func (g *stubGuard) Get(ctx context.Context, participationID uint, forStudent bool) (dto.ParticipationResponse, error) {
	panic("not used")
}

func (g *stubGuard) CurrentSlot(ctx context.Context, participationID uint) (dto.SubmissionSlotResponse, error) {
	panic("not used")
}

func (g *stubGuard) MoveForward(ctx context.Context, participationID uint) (dto.SubmissionSlotResponse, error) {
	panic("not used")
}

func (g *stubGuard) MoveBack(ctx context.Context, participationID uint) (dto.SubmissionSlotResponse, error) {
	panic("not used")
}

func (g *stubGuard) TurnIn(ctx context.Context, participationID uint) (dto.ParticipationResponse, error) {
	panic("not used")
}

func (g *stubGuard) CheckWritable(ctx context.Context, participationID uint) (models.EventParticipation, error) {
	if g.err != nil {
		return models.EventParticipation{}, g.err
	}
	return g.participation, nil
}

// stubUploader records uploads and returns a deterministic URL.
type stubUploader struct {
	folder   string
	filename string
	err      error
}

func (u *stubUploader) Upload(ctx context.Context, folder, filename string, data []byte) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.folder = folder
	u.filename = filename
	return fmt.Sprintf("https://files.test/%s/%s", folder, filename), nil
}

// stubRunner delegates to a func so tests can script sandbox behavior.
type stubRunner struct {
	execute func(ctx context.Context, req sandbox.Request) sandbox.ExecutionResults
}

func (r *stubRunner) Execute(ctx context.Context, req sandbox.Request) sandbox.ExecutionResults {
	return r.execute(ctx, req)
}
