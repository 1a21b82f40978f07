package telephony

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lisuiheng/callguard-go/pkg/interfaces"
)

// Step 脚本中的一步：要么投递一个信号，要么等待
type Step struct {
	State       interfaces.RawCallState
	PhoneNumber string
	Wait        time.Duration // 大于 0 时这一步只是等待
}

// ParseScript 每行一步，支持:
//
//	ringing 555-0100
//	offhook
//	idle
//	sleep 2s
//
// 空行和 # 开头的行被忽略。
func ParseScript(r io.Reader) ([]Step, error) {
	var steps []Step
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		step, ok, err := parseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ok {
			steps = append(steps, step)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return steps, nil
}

func parseLine(text string) (Step, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasPrefix(text, "#") {
		return Step{}, false, nil
	}
	fields := strings.Fields(text)

	if strings.EqualFold(fields[0], "sleep") || strings.EqualFold(fields[0], "wait") {
		if len(fields) != 2 {
			return Step{}, false, fmt.Errorf("sleep needs a duration")
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil || d <= 0 {
			return Step{}, false, fmt.Errorf("invalid duration %q", fields[1])
		}
		return Step{Wait: d}, true, nil
	}

	state, err := interfaces.ParseRawCallState(fields[0])
	if err != nil {
		return Step{}, false, err
	}
	if len(fields) > 2 {
		return Step{}, false, fmt.Errorf("too many fields")
	}
	step := Step{State: state}
	if len(fields) == 2 {
		step.PhoneNumber = fields[1]
	}
	return step, true, nil
}

// Feed 逐行读取 r 并立即投递，适合从标准输入或管道接收宿主的通话信号。
// 无法解析的行记录后跳过；r 读完或 ctx 取消时返回。
func (s *Source) Feed(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return ctx.Err()
				}
			}
			step, ok, err := parseLine(text)
			if err != nil {
				s.logger.Warn("Ignoring invalid call state line", "line", text, "error", err)
				continue
			}
			if !ok {
				continue
			}
			if err := s.play(ctx, step); err != nil {
				return err
			}
		}
	}
}

// play 执行一步
func (s *Source) play(ctx context.Context, step Step) error {
	if step.Wait > 0 {
		timer := time.NewTimer(step.Wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Emit(step.State, step.PhoneNumber)
	return nil
}

// DemoCall 一通来电：响铃，接听，通话一段时间后挂断
func DemoCall(number string, ring, talk time.Duration) []Step {
	return []Step{
		{State: interfaces.RawRinging, PhoneNumber: number},
		{Wait: ring},
		{State: interfaces.RawOffhook, PhoneNumber: number},
		{Wait: talk},
		{State: interfaces.RawIdle},
	}
}

// Simulator 按脚本通过 Source 投递信号，用于没有电话硬件的环境
type Simulator struct {
	*Source
	steps  []Step
	logger *slog.Logger
}

func NewSimulator(steps []Step, logger *slog.Logger) *Simulator {
	return &Simulator{
		Source: NewSource(logger),
		steps:  steps,
		logger: logger.With("component", "simulator"),
	}
}

// Run 依次执行每一步，ctx 取消时提前返回 ctx.Err()
func (s *Simulator) Run(ctx context.Context) error {
	for i, step := range s.steps {
		if step.Wait == 0 {
			s.logger.Info("Simulated call state", "step", i, "state", step.State, "number", step.PhoneNumber)
		}
		if err := s.play(ctx, step); err != nil {
			return err
		}
	}
	return nil
}
