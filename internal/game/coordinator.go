// Package game — машина состояний игры на реакцию. Координатор
// работает на КАЖДОМ клиенте независимо: все наблюдают один и тот же
// реплицируемый gameState и сами решают, должны ли они вести раунд.
//
// Консенсуса нет намеренно. Лидерство — «кто первым записал свой id»,
// и корректность исходов раунда от единственности лидера не зависит:
// арбитром служит переход поля state, выполняемый CAS-транзакцией.
// Проигравший любую гонку узнаёт об этом из повторного чтения и
// ничего не пишет — ни очков, ни результата.
package game

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/reflex-hall/rooms-service/internal/domain"
	"github.com/reflex-hall/rooms-service/internal/store"
)

const (
	// окно случайного ожидания перед сигналом «го»: [2000, 5000) мс.
	// Случайность и делает фальстарт реальным риском.
	minRoundWait    = 2000 * time.Millisecond
	roundWaitSpread = 3000 * time.Millisecond

	// пауза показа результата перед следующим раундом
	postResultDelay = 2500 * time.Millisecond
)

// Outcome — исход клика с точки зрения кликнувшего клиента.
type Outcome int

const (
	OutcomeIgnored    Outcome = iota // наблюдатель либо нет статуса
	OutcomeTooLate                   // раунд уже решён другим кликом
	OutcomeFalseStart                // клик до сигнала, штраф
	OutcomeWin                       // валидный клик, очко
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTooLate:
		return "too_late"
	case OutcomeFalseStart:
		return "false_start"
	case OutcomeWin:
		return "win"
	default:
		return "ignored"
	}
}

type Coordinator struct {
	sess *store.Session
	user domain.UserInfo

	roomCode   string
	activityID string
	gamePath   string
	memberPath string

	clock   clockwork.Clock
	waitFor func() time.Duration

	mu           sync.Mutex
	cancel       context.CancelFunc
	timerRound   int64 // раунд, на который уже взведён таймер лидера
	advanceRound int64 // раунд, на который уже запланирован переход
}

type Option func(*Coordinator)

// WithClock подменяет часы (fake clock в тестах).
func WithClock(c clockwork.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithWaitFunc подменяет розыгрыш задержки перед «го».
func WithWaitFunc(f func() time.Duration) Option {
	return func(co *Coordinator) { co.waitFor = f }
}

func New(sess *store.Session, user domain.UserInfo, roomCode, activityID string, opts ...Option) *Coordinator {
	c := &Coordinator{
		sess:       sess,
		user:       user,
		roomCode:   roomCode,
		activityID: activityID,
		gamePath:   "rooms/" + roomCode + "/activities/" + activityID + "/gameState",
		memberPath: "rooms/" + roomCode + "/activities/" + activityID + "/activeUsers/" + user.ID,
		clock:      clockwork.NewRealClock(),
	}
	c.waitFor = func() time.Duration {
		return minRoundWait + time.Duration(rand.Int64N(int64(roundWaitSpread)))
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run подписывается на gameState и реагирует на каждое его состояние,
// пока ctx жив или подписка не снята. Вся производная логика питается
// ТОЛЬКО потоком подписки — никаких локальных эффектов от собственных
// записей (иначе эффекты применялись бы дважды).
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	snaps, cancelWatch, err := c.sess.Watch(ctx, c.gamePath)
	if err != nil {
		return err
	}
	defer cancelWatch()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			c.handleSnapshot(ctx, snap)
		}
	}
}

// Stop останавливает цикл и все взведённые таймеры координатора.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) handleSnapshot(ctx context.Context, snap store.Snapshot) {
	if snap.Value == nil {
		return
	}
	var st domain.GameState
	if err := store.Decode(snap.Value, &st); err != nil {
		slog.Warn("game state decode failed", "path", c.gamePath, "err", err)
		return
	}
	// раунды двигают только играющие
	if st.PlayerStatus[c.user.ID] != domain.StatusPlaying {
		return
	}

	switch st.State {
	case domain.RoundWaiting:
		switch st.RoundInitiator {
		case "":
			c.tryClaim(ctx, st.Round)
		case c.user.ID:
			// подтверждение лидерства репликой; таймер взводится один раз
			c.armTimer(ctx, st.Round)
		}
	case domain.RoundFinished:
		c.scheduleAdvance(ctx, st.Round)
	}
}

// tryClaim — мягкая заявка на лидерство: первый, чья запись id прошла,
// ведёт раунд. Проигрыш гонки ничего не стоит.
func (c *Coordinator) tryClaim(ctx context.Context, round int64) {
	committed, err := c.sess.Tx(ctx, c.gamePath, func(cur any) (any, error) {
		var st domain.GameState
		if cur == nil {
			return nil, store.ErrTxAbort
		}
		if err := store.Decode(cur, &st); err != nil {
			return nil, err
		}
		if st.Round != round || st.State != domain.RoundWaiting || st.RoundInitiator != "" {
			return nil, store.ErrTxAbort
		}
		st.RoundInitiator = c.user.ID
		return st, nil
	})
	if err != nil {
		slog.Warn("claim leadership failed", "round", round, "err", err)
		return
	}
	if committed {
		c.armTimer(ctx, round)
	}
}

func (c *Coordinator) armTimer(ctx context.Context, round int64) {
	c.mu.Lock()
	if c.timerRound >= round {
		c.mu.Unlock()
		return
	}
	c.timerRound = round
	c.mu.Unlock()

	go c.runRoundTimer(ctx, round)
}

// runRoundTimer выдерживает случайную паузу и коммитит «го».
// roundStartTime фиксируется в момент коммита, а не старта ожидания:
// реакция меряется от видимости сигнала, не от локального таймера.
// Запись защищена номером раунда и текущим состоянием — сработавший
// вхолостую таймер проигранной гонки не может переоткрыть решённый
// раунд (полезная строгость поверх исходного протокола).
func (c *Coordinator) runRoundTimer(ctx context.Context, round int64) {
	select {
	case <-ctx.Done():
		return
	case <-c.clock.After(c.waitFor()):
	}

	// сессия могла выйти из активности, пока таймер спал
	if !c.stillJoined(ctx) {
		return
	}

	_, err := c.sess.Tx(ctx, c.gamePath, func(cur any) (any, error) {
		var st domain.GameState
		if cur == nil {
			return nil, store.ErrTxAbort
		}
		if err := store.Decode(cur, &st); err != nil {
			return nil, err
		}
		if st.Round != round || st.State != domain.RoundWaiting || st.RoundInitiator != c.user.ID {
			return nil, store.ErrTxAbort
		}
		st.State = domain.RoundReady
		st.RoundStartTime = c.clock.Now().UnixMilli()
		return st, nil
	})
	if err != nil {
		slog.Warn("round ready write failed", "round", round, "err", err)
	}
}

// scheduleAdvance — через 2500 мс после результата один из играющих
// атомарно двигает счётчик раунда. Гонка безопасна: транзакция
// проигравшего видит уже сдвинутый раунд и откатывается, двойного
// инкремента не бывает.
func (c *Coordinator) scheduleAdvance(ctx context.Context, round int64) {
	c.mu.Lock()
	if c.advanceRound >= round {
		c.mu.Unlock()
		return
	}
	c.advanceRound = round
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(postResultDelay):
		}
		if !c.stillJoined(ctx) {
			return
		}

		_, err := c.sess.Tx(ctx, c.gamePath, func(cur any) (any, error) {
			var st domain.GameState
			if cur == nil {
				return nil, store.ErrTxAbort
			}
			if err := store.Decode(cur, &st); err != nil {
				return nil, err
			}
			if st.Round != round || st.State != domain.RoundFinished {
				return nil, store.ErrTxAbort
			}
			st.Round = round + 1
			st.State = domain.RoundWaiting
			st.RoundInitiator = ""
			st.RoundStartTime = 0
			st.LastResult = nil
			return st, nil
		})
		if err != nil {
			slog.Warn("round advance failed", "round", round, "err", err)
		}
	}()
}

// stillJoined — перепроверка членства перед отложенной записью:
// таймер не должен мутировать состояние от имени вышедшей сессии.
func (c *Coordinator) stillJoined(ctx context.Context) bool {
	v, _, err := c.sess.Get(ctx, c.memberPath)
	return err == nil && v != nil
}

// SetStatus объявляет участие. Первый переход в playing заводит
// нулевой счёт — read-check-then-write, гонка инициализации безвредна
// (повторная запись кладёт тот же ноль).
func (c *Coordinator) SetStatus(ctx context.Context, status domain.PlayerStatus) error {
	if err := c.sess.Set(ctx, c.gamePath+"/playerStatus/"+c.user.ID, string(status)); err != nil {
		return err
	}
	if status != domain.StatusPlaying {
		return nil
	}

	scorePath := c.gamePath + "/scores/" + c.user.ID
	v, _, err := c.sess.Get(ctx, scorePath)
	if err != nil {
		return err
	}
	if v == nil {
		return c.sess.Set(ctx, scorePath, domain.Score{Name: c.user.Name, Points: 0})
	}
	return nil
}

// Click — арбитраж клика. Решение принимается по СВЕЖЕМУ чтению внутри
// транзакции, а не по кэшу подписки; коммит транзакции и есть переход
// ready→finished. Повтор после конфликта перечитывает состояние и,
// увидев чужой finished, самоопределяется как опоздавший — очки
// двигает ровно один клик за раунд.
func (c *Coordinator) Click(ctx context.Context) (Outcome, *domain.RoundResult, error) {
	var (
		out Outcome
		res *domain.RoundResult
	)
	_, err := c.sess.Tx(ctx, c.gamePath, func(cur any) (any, error) {
		out, res = OutcomeIgnored, nil
		if cur == nil {
			return nil, store.ErrTxAbort
		}
		var st domain.GameState
		if err := store.Decode(cur, &st); err != nil {
			return nil, err
		}
		if st.PlayerStatus[c.user.ID] != domain.StatusPlaying {
			return nil, store.ErrTxAbort
		}

		switch st.State {
		case domain.RoundFinished:
			out = OutcomeTooLate
			return nil, store.ErrTxAbort

		case domain.RoundWaiting:
			// фальстарт: −1 очко, пол на нуле; чужие очки не трогаем
			r := &domain.RoundResult{UserID: c.user.ID, Name: c.user.Name, TooEarly: true}
			st.State = domain.RoundFinished
			st.RoundStartTime = 0
			st.LastResult = r
			c.adjustScore(&st, -1)
			out, res = OutcomeFalseStart, r
			return st, nil

		case domain.RoundReady:
			r := &domain.RoundResult{
				UserID: c.user.ID,
				Name:   c.user.Name,
				TimeMs: c.clock.Now().UnixMilli() - st.RoundStartTime,
			}
			st.State = domain.RoundFinished
			st.RoundStartTime = 0
			st.LastResult = r
			c.adjustScore(&st, +1)
			out, res = OutcomeWin, r
			return st, nil

		default:
			return nil, store.ErrTxAbort
		}
	})
	if err != nil {
		return OutcomeIgnored, nil, err
	}
	return out, res, nil
}

func (c *Coordinator) adjustScore(st *domain.GameState, delta int64) {
	if st.Scores == nil {
		st.Scores = map[string]domain.Score{}
	}
	sc := st.Scores[c.user.ID]
	if sc.Name == "" {
		sc.Name = c.user.Name
	}
	sc.Points += delta
	if sc.Points < 0 {
		sc.Points = 0
	}
	st.Scores[c.user.ID] = sc
}
