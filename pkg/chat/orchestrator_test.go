package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/papercomputeco/supportrelay/pkg/chat"
	"github.com/papercomputeco/supportrelay/pkg/completion"
	"github.com/papercomputeco/supportrelay/pkg/llm"
	"github.com/papercomputeco/supportrelay/pkg/session"
)

// echo replies with the content of the last message it was given.
var echo = completion.CompleterFunc(func(_ context.Context, _ string, messages []llm.Message) (string, error) {
	return "Echo: " + messages[len(messages)-1].Content, nil
})

// failingStore rejects every write.
type failingStore struct {
	*session.MemoryStore
}

func (failingStore) Append(context.Context, string, ...llm.Message) error {
	return errors.New("store unavailable")
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx   context.Context
		store *session.MemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = session.NewMemoryStore()
	})

	newOrchestrator := func(completer completion.Completer) *chat.Orchestrator {
		return chat.NewOrchestrator(chat.Config{Model: "test-model"}, store, completer, zap.NewNop())
	}

	historyOf := func(sessionID string) []llm.Message {
		history, err := store.Get(ctx, sessionID)
		Expect(err).NotTo(HaveOccurred())
		return history
	}

	Describe("validation", func() {
		It("rejects an empty message without touching the store", func() {
			var calls int32
			o := newOrchestrator(completion.CompleterFunc(func(context.Context, string, []llm.Message) (string, error) {
				atomic.AddInt32(&calls, 1)
				return "unused", nil
			}))
			Expect(store.Append(ctx, "s1", llm.UserMessage("earlier"))).To(Succeed())

			_, err := o.HandleTurn(ctx, "s1", "")

			var validationErr *chat.ValidationError
			Expect(errors.As(err, &validationErr)).To(BeTrue())
			Expect(validationErr.Field).To(Equal("message"))
			Expect(err).To(MatchError("Message is required"))
			Expect(historyOf("s1")).To(Equal([]llm.Message{llm.UserMessage("earlier")}))
			Expect(atomic.LoadInt32(&calls)).To(BeZero())
		})
	})

	Describe("a successful exchange", func() {
		It("records both turns in order across calls", func() {
			o := newOrchestrator(echo)

			first, err := o.HandleTurn(ctx, "s1", "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Message).To(Equal("Echo: hello"))
			Expect(first.SessionID).To(Equal("s1"))

			second, err := o.HandleTurn(ctx, "s1", "again")
			Expect(err).NotTo(HaveOccurred())

			want := []llm.Message{
				llm.UserMessage("hello"),
				llm.AssistantMessage("Echo: hello"),
				llm.UserMessage("again"),
				llm.AssistantMessage("Echo: again"),
			}
			Expect(second.History).To(Equal(want))
			Expect(historyOf("s1")).To(Equal(want))
		})

		It("sends the system prompt first but never stores or returns it", func() {
			var seen [][]llm.Message
			var mu sync.Mutex
			o := newOrchestrator(completion.CompleterFunc(func(ctx context.Context, model string, messages []llm.Message) (string, error) {
				mu.Lock()
				seen = append(seen, messages)
				mu.Unlock()
				return echo(ctx, model, messages)
			}))

			var last *chat.Result
			for i := range 4 {
				res, err := o.HandleTurn(ctx, "s1", fmt.Sprintf("question %d", i))
				Expect(err).NotTo(HaveOccurred())
				last = res
			}

			for _, messages := range seen {
				Expect(messages[0]).To(Equal(llm.SystemMessage(chat.SystemPrompt)))
				for _, msg := range messages[1:] {
					Expect(msg.Role).NotTo(Equal(llm.RoleSystem))
				}
			}
			Expect(seen[3]).To(HaveLen(1 + 7))
			for _, msg := range append(last.History, historyOf("s1")...) {
				Expect(msg.Role).NotTo(Equal(llm.RoleSystem))
			}
		})

		It("passes the configured model", func() {
			var model string
			o := newOrchestrator(completion.CompleterFunc(func(_ context.Context, m string, _ []llm.Message) (string, error) {
				model = m
				return "ok", nil
			}))

			_, err := o.HandleTurn(ctx, "s1", "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(model).To(Equal("test-model"))
		})

		It("mints a distinct session id when none is given", func() {
			o := newOrchestrator(echo)

			a, err := o.HandleTurn(ctx, "", "hi")
			Expect(err).NotTo(HaveOccurred())
			b, err := o.HandleTurn(ctx, "", "hi")
			Expect(err).NotTo(HaveOccurred())

			Expect(a.SessionID).NotTo(BeEmpty())
			Expect(a.SessionID).NotTo(Equal(b.SessionID))
			Expect(a.History).To(HaveLen(2))
			Expect(b.History).To(HaveLen(2))
		})
	})

	Describe("upstream failures", func() {
		It("keeps the user turn when the reply is empty", func() {
			o := newOrchestrator(completion.CompleterFunc(func(context.Context, string, []llm.Message) (string, error) {
				return "", nil
			}))

			_, err := o.HandleTurn(ctx, "s1", "hi")
			Expect(err).To(MatchError(chat.ErrUpstreamEmptyResponse))
			Expect(historyOf("s1")).To(Equal([]llm.Message{llm.UserMessage("hi")}))
		})

		It("wraps transport errors and keeps the user turn", func() {
			cause := errors.New("connection reset by peer")
			o := newOrchestrator(completion.CompleterFunc(func(context.Context, string, []llm.Message) (string, error) {
				return "", cause
			}))

			_, err := o.HandleTurn(ctx, "s1", "hi")

			var upstreamErr *chat.UpstreamError
			Expect(errors.As(err, &upstreamErr)).To(BeTrue())
			Expect(err).To(MatchError(cause))
			Expect(historyOf("s1")).To(Equal([]llm.Message{llm.UserMessage("hi")}))
		})

		It("treats a timeout as an upstream failure", func() {
			o := chat.NewOrchestrator(chat.Config{Timeout: 20 * time.Millisecond}, store,
				completion.CompleterFunc(func(ctx context.Context, _ string, _ []llm.Message) (string, error) {
					<-ctx.Done()
					return "", ctx.Err()
				}), zap.NewNop())

			_, err := o.HandleTurn(ctx, "s1", "slow")

			var upstreamErr *chat.UpstreamError
			Expect(errors.As(err, &upstreamErr)).To(BeTrue())
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(historyOf("s1")).To(Equal([]llm.Message{llm.UserMessage("slow")}))
		})

		It("leaves warning and error logs to the caller", func() {
			core, logs := observer.New(zapcore.WarnLevel)
			o := chat.NewOrchestrator(chat.Config{}, store,
				completion.CompleterFunc(func(context.Context, string, []llm.Message) (string, error) {
					return "", errors.New("unavailable")
				}), zap.New(core))

			_, err := o.HandleTurn(ctx, "s1", "hi")
			Expect(err).To(HaveOccurred())
			Expect(logs.All()).To(BeEmpty())
		})

		It("lets an unanswered turn be followed by a retry from the caller", func() {
			var fail atomic.Bool
			fail.Store(true)
			o := newOrchestrator(completion.CompleterFunc(func(ctx context.Context, model string, messages []llm.Message) (string, error) {
				if fail.Load() {
					return "", errors.New("unavailable")
				}
				return echo(ctx, model, messages)
			}))

			_, err := o.HandleTurn(ctx, "s1", "hi")
			Expect(err).To(HaveOccurred())

			fail.Store(false)
			res, err := o.HandleTurn(ctx, "s1", "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.History).To(Equal([]llm.Message{
				llm.UserMessage("hi"),
				llm.UserMessage("hi"),
				llm.AssistantMessage("Echo: hi"),
			}))
		})
	})

	Describe("store failures", func() {
		It("reports them as neither validation nor upstream errors", func() {
			o := chat.NewOrchestrator(chat.Config{}, failingStore{session.NewMemoryStore()}, echo, zap.NewNop())

			_, err := o.HandleTurn(ctx, "s1", "hi")
			Expect(err).To(MatchError(ContainSubstring("store unavailable")))

			var validationErr *chat.ValidationError
			var upstreamErr *chat.UpstreamError
			Expect(errors.As(err, &validationErr)).To(BeFalse())
			Expect(errors.As(err, &upstreamErr)).To(BeFalse())
		})
	})

	Describe("concurrency", func() {
		It("serializes turns of one session so every question is followed by its answer", func() {
			slowEcho := completion.CompleterFunc(func(ctx context.Context, model string, messages []llm.Message) (string, error) {
				time.Sleep(time.Millisecond)
				return echo(ctx, model, messages)
			})
			o := newOrchestrator(slowEcho)

			const k = 16
			var wg sync.WaitGroup
			for i := range k {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := o.HandleTurn(ctx, "shared", fmt.Sprintf("q%d", i))
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			history := historyOf("shared")
			Expect(history).To(HaveLen(2 * k))
			for i := 0; i < len(history); i += 2 {
				Expect(history[i].Role).To(Equal(llm.RoleUser))
				Expect(history[i+1]).To(Equal(llm.AssistantMessage("Echo: " + history[i].Content)))
			}
		})

		It("serializes turns of one session on the SQLite store", func() {
			sqlite, err := session.NewSQLiteStore(ctx)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(sqlite.Close)
			o := chat.NewOrchestrator(chat.Config{Model: "test-model"}, sqlite, echo, zap.NewNop())

			const k = 8
			var wg sync.WaitGroup
			for i := range k {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := o.HandleTurn(ctx, "shared", fmt.Sprintf("q%d", i))
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			history, err := sqlite.Get(ctx, "shared")
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2 * k))
			for i := 0; i < len(history); i += 2 {
				Expect(history[i].Role).To(Equal(llm.RoleUser))
				Expect(history[i+1]).To(Equal(llm.AssistantMessage("Echo: " + history[i].Content)))
			}
		})

		It("runs different sessions in parallel", func() {
			release := make(chan struct{})
			var started int32
			o := newOrchestrator(completion.CompleterFunc(func(ctx context.Context, model string, messages []llm.Message) (string, error) {
				atomic.AddInt32(&started, 1)
				<-release
				return echo(ctx, model, messages)
			}))

			var wg sync.WaitGroup
			for _, id := range []string{"a", "b"} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := o.HandleTurn(ctx, id, "hi")
					Expect(err).NotTo(HaveOccurred())
				}()
			}

			Eventually(func() int32 { return atomic.LoadInt32(&started) }).Should(Equal(int32(2)))
			close(release)
			wg.Wait()
		})
	})
})
