package store

/*
Файл store.go реализует единое процессное хранилище control plane.

Ключевые решения:
- Явный объект Store, создаваемый на старте процесса и передаваемый хендлом
  во все сервисы — никаких скрытых глобалов, тесты собирают изолированные
  сторы на каждый кейс.
- Одна мьютекса на всё хранилище: каждое чтение time-sensitive состояния
  начинается с maintenance-свипа (который мутирует таблицы), поэтому
  мелкогранулярные RW-локи на отдельные мапы ничего не дали бы, а путь
  создания сессии (генерация id + вставка + выпуск токена) обязан быть
  атомарным целиком.
- Sweep ленивый и идемпотентный: его безопасно звать на каждом запросе
  и избыточно — из периодического фонового прохода.
*/

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/opencontrol/internal/domain"
)

// Tables — таблицы «ключ-значение» по видам сущностей.
// Доступ только изнутри Store.Update.
type Tables struct {
	// Пользователь, от имени которого стартует device-flow на этой машине.
	DefaultUserID string

	Users      map[string]*domain.User
	Orgs       map[string]*domain.Org
	Workspaces map[string]*domain.Workspace

	DeviceCodes   map[string]*domain.DeviceCode   // key: device_code
	AccessTokens  map[string]*domain.AccessToken  // key: token
	SessionTokens map[string]*domain.SessionToken // key: token
	Sessions      map[string]*domain.Session      // key: session id
}

// SweepResult — что именно прибрал один проход.
type SweepResult struct {
	AccessTokensReclaimed  int
	SessionTokensReclaimed int
	SessionsTerminated     int
}

// Store владеет таблицами и часами. Часы инжектируются, чтобы тесты
// управляли временем.
type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	logger *zap.Logger
	t      Tables

	// Необязательный хук для метрик свипа.
	onSweep func(SweepResult)
}

// New создаёт пустой стор. clock == nil означает time.Now.
func New(clock func() time.Time, logger *zap.Logger) *Store {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		now:    clock,
		logger: logger.With(zap.String("mod", "store")),
		t: Tables{
			Users:         make(map[string]*domain.User),
			Orgs:          make(map[string]*domain.Org),
			Workspaces:    make(map[string]*domain.Workspace),
			DeviceCodes:   make(map[string]*domain.DeviceCode),
			AccessTokens:  make(map[string]*domain.AccessToken),
			SessionTokens: make(map[string]*domain.SessionToken),
			Sessions:      make(map[string]*domain.Session),
		},
	}
}

// OnSweep регистрирует наблюдателя свипа (метрики). Зовётся до старта сервера.
func (s *Store) OnSweep(fn func(SweepResult)) {
	s.onSweep = fn
}

// Now — текущее время по часам стора.
func (s *Store) Now() time.Time {
	return s.now()
}

// Update исполняет fn под локом, предварительно прогнав maintenance-свип:
// ни одна операция не видит истёкшие токены или просроченные active-сессии.
func (s *Store) Update(fn func(t *Tables) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return fn(&s.t)
}

// Sweep — явный проход для периодического фонового свипера.
func (s *Store) Sweep() SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// sweepLocked удаляет истёкшие access/session-токены и терминирует
// active-сессии с просроченным sandbox TTL. Device codes намеренно
// не трогаем: их истечение фиксируется в момент обмена, чтобы клиент
// получил честный AUTH_DEVICE_CODE_EXPIRED, а не not-found.
func (s *Store) sweepLocked() SweepResult {
	now := s.now()
	var res SweepResult

	for token, at := range s.t.AccessTokens {
		if !at.ExpiresAt.After(now) {
			delete(s.t.AccessTokens, token)
			res.AccessTokensReclaimed++
		}
	}
	for token, st := range s.t.SessionTokens {
		if !st.ExpiresAt.After(now) {
			delete(s.t.SessionTokens, token)
			res.SessionTokensReclaimed++
		}
	}
	for _, sess := range s.t.Sessions {
		// Guard на active: sweep не имеет права затирать completed/failed.
		if sess.Status == domain.SessionActive && !sess.Sandbox.ExpiresAt.After(now) {
			sess.Status = domain.SessionTerminated
			sess.UpdatedAt = now
			res.SessionsTerminated++
			s.logger.Info("session terminated by sweep",
				zap.String("session_id", sess.ID),
				zap.Time("sandbox_expired_at", sess.Sandbox.ExpiresAt))
		}
	}

	if s.onSweep != nil {
		s.onSweep(res)
	}
	return res
}
