package service

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/redis/go-redis/v9"
)

// Property: 一次性消费
// *For any* 票据与并发度 n，n 个并发消费者中恰有一个成功，
// 其余全部观察到"已被使用"
func TestProperty_TicketConsumeExactlyOnce(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("启动 miniredis 失败: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	svc := NewTicketService(client, NewServiceRegistry(nil), nil)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("并发消费恰有一次成功", prop.ForAll(
		func(workers int) bool {
			ticket, err := svc.IssueServiceTicket(ctx, testService, "alice", false)
			if err != nil {
				return false
			}

			var wg sync.WaitGroup
			results := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.Consume(ctx, ticket.Token, model.KindServiceTicket, testService, false)
					results <- err
				}()
			}
			wg.Wait()
			close(results)

			succeeded, consumed := 0, 0
			for err := range results {
				switch err {
				case nil:
					succeeded++
				case ErrTicketConsumed:
					consumed++
				default:
					return false
				}
			}
			return succeeded == 1 && consumed == workers-1
		},
		gen.IntRange(2, 12),
	))

	properties.TestingRun(t)
}

// Property: 令牌前缀与种类一致
// *For any* 种类，生成的令牌前缀唯一确定该种类
func TestProperty_TokenPrefixRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("启动 miniredis 失败: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	svc := NewTicketService(client, NewServiceRegistry(nil), nil)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	kinds := []model.TicketKind{
		model.KindServiceTicket,
		model.KindProxyGrantingTicket,
		model.KindProxyTicket,
	}

	properties.Property("前缀解析回种类", prop.ForAll(
		func(i int) bool {
			kind := kinds[i%len(kinds)]
			token := svc.NewToken(kind)
			parsed, ok := model.ParseTicketKind(token)
			return ok && parsed == kind
		},
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

// Property: renew 校验
// *For any* primary 标记，renew 消费成功当且仅当票据是直接出示凭据签发的
func TestProperty_RenewRequiresPrimary(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("启动 miniredis 失败: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	svc := NewTicketService(client, NewServiceRegistry(nil), nil)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("renew 当且仅当 primary", prop.ForAll(
		func(primary bool) bool {
			ticket, err := svc.IssueServiceTicket(ctx, testService, "alice", primary)
			if err != nil {
				return false
			}
			_, err = svc.Consume(ctx, ticket.Token, model.KindServiceTicket, testService, true)
			if primary {
				return err == nil
			}
			return err == ErrRenewRequired
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}
