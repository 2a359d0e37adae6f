// Пакет session — конечный автомат клиентской сессии восстановления.
//
// Жизненный цикл:
//
//	idle → damaged_uploaded → (working_uploaded) → submitting → simulating → completed → idle
//
// Ошибка регистрации заявки возвращает сессию из submitting в состояние,
// из которого она была начата. Потокобезопасен через sync.RWMutex.
package session

import (
	"fmt"
	"sync"
	"time"
)

// State — состояние клиентской сессии.
type State string

const (
	// StateIdle — ничего не загружено
	StateIdle State = "idle"
	// StateDamagedUploaded — повреждённый файл на сервере
	StateDamagedUploaded State = "damaged_uploaded"
	// StateWorkingUploaded — загружены оба файла
	StateWorkingUploaded State = "working_uploaded"
	// StateSubmitting — заявка отправляется
	StateSubmitting State = "submitting"
	// StateSimulating — идёт анимация прогресса
	StateSimulating State = "simulating"
	// StateCompleted — прогресс достиг 100%
	StateCompleted State = "completed"
)

// TransitionRecord — запись о переходе между состояниями.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// validTransitions — матрица допустимых переходов.
// Повторная загрузка файла оставляет сессию в том же состоянии.
var validTransitions = map[State]map[State]bool{
	StateIdle:            {StateDamagedUploaded: true},
	StateDamagedUploaded: {StateDamagedUploaded: true, StateWorkingUploaded: true, StateSubmitting: true},
	StateWorkingUploaded: {StateWorkingUploaded: true, StateSubmitting: true},
	StateSubmitting:      {StateSimulating: true, StateDamagedUploaded: true, StateWorkingUploaded: true},
	StateSimulating:      {StateCompleted: true},
	StateCompleted:       {StateIdle: true},
}

// StateMachine — конечный автомат сессии.
type StateMachine struct {
	mu      sync.RWMutex
	current State
	history []TransitionRecord
}

// NewStateMachine создаёт автомат в состоянии idle.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
		history: make([]TransitionRecord, 0),
	}
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (sm *StateMachine) CanTransitionTo(target State) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return validTransitions[sm.current][target]
}

// TransitionTo выполняет переход в указанное состояние.
// Возвращает *TransitionError, если переход недопустим.
func (sm *StateMachine) TransitionTo(target State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.transitionLocked(sm.current, target)
}

// CompareAndTransition выполняет переход, только если текущее состояние
// равно from. Позволяет атомарно занять сессию (например, начать отправку).
func (sm *StateMachine) CompareAndTransition(from, target State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.current != from {
		return &TransitionError{
			Code:    "STATE_CHANGED",
			Message: fmt.Sprintf("ожидалось состояние %s, текущее %s", from, sm.current),
		}
	}
	return sm.transitionLocked(from, target)
}

func (sm *StateMachine) transitionLocked(from, target State) error {
	if !validTransitions[from][target] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", from, target),
		}
	}

	sm.history = append(sm.history, TransitionRecord{
		From:      from,
		To:        target,
		Timestamp: time.Now().UTC(),
	})
	sm.current = target
	return nil
}

// IsBusy возвращает true, пока заявка отправляется или идёт симуляция.
func (sm *StateMachine) IsBusy() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current == StateSubmitting || sm.current == StateSimulating
}

// Reset возвращает сессию в idle без проверки переходов.
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.current == StateIdle {
		return
	}
	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        StateIdle,
		Timestamp: time.Now().UTC(),
	})
	sm.current = StateIdle
}

// History возвращает историю переходов (копия).
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

// TransitionError — ошибка перехода между состояниями.
type TransitionError struct {
	Code    string // INVALID_TRANSITION, STATE_CHANGED
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
