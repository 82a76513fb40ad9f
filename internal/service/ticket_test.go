package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testService = "https://app.example.org/cb"

func newTestTicketService(t *testing.T) (TicketService, func()) {
	client, cleanup := setupTestRedis(t)
	return NewTicketService(client, NewServiceRegistry(nil), nil), cleanup
}

func TestTicketService_NewToken(t *testing.T) {
	svc, cleanup := newTestTicketService(t)
	defer cleanup()

	st := svc.NewToken(model.KindServiceTicket)
	assert.True(t, strings.HasPrefix(st, "ST-"))

	pgt := svc.NewToken(model.KindProxyGrantingTicket)
	assert.True(t, strings.HasPrefix(pgt, "PGT-"))

	pt := svc.NewToken(model.KindProxyTicket)
	assert.True(t, strings.HasPrefix(pt, "PT-"))

	// 高熵令牌不应重复
	assert.NotEqual(t, svc.NewToken(model.KindServiceTicket), svc.NewToken(model.KindServiceTicket))
}

func TestTicketService_IssueAndConsume(t *testing.T) {
	svc, cleanup := newTestTicketService(t)
	defer cleanup()
	ctx := context.Background()

	ticket, err := svc.IssueServiceTicket(ctx, testService, "alice", true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ticket.Token, "ST-"))
	assert.True(t, ticket.Primary)

	consumed, err := svc.Consume(ctx, ticket.Token, model.KindServiceTicket, testService, false)
	require.NoError(t, err)
	assert.Equal(t, "alice", consumed.Username)
	assert.True(t, consumed.Consumed)

	// 二次消费失败
	_, err = svc.Consume(ctx, ticket.Token, model.KindServiceTicket, testService, false)
	assert.ErrorIs(t, err, ErrTicketConsumed)
}

func TestTicketService_ConsumeErrors(t *testing.T) {
	svc, cleanup := newTestTicketService(t)
	defer cleanup()
	ctx := context.Background()

	ticket, err := svc.IssueServiceTicket(ctx, testService, "alice", false)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		kind    model.TicketKind
		service string
		renew   bool
		wantErr error
	}{
		{
			name:    "无前缀令牌",
			token:   "garbage-token",
			kind:    model.KindServiceTicket,
			service: testService,
			wantErr: ErrTicketMalformed,
		},
		{
			name:    "种类不符按不存在处理",
			token:   ticket.Token,
			kind:    model.KindProxyTicket,
			service: testService,
			wantErr: ErrTicketNotFound,
		},
		{
			name:    "不存在的令牌",
			token:   "ST-missing",
			kind:    model.KindServiceTicket,
			service: testService,
			wantErr: ErrTicketNotFound,
		},
		{
			name:    "服务不匹配",
			token:   ticket.Token,
			kind:    model.KindServiceTicket,
			service: "https://other.example.org/cb",
			wantErr: ErrServiceMismatch,
		},
		{
			name:    "renew 要求 primary 票据",
			token:   ticket.Token,
			kind:    model.KindServiceTicket,
			service: testService,
			renew:   true,
			wantErr: ErrRenewRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Consume(ctx, tt.token, tt.kind, tt.service, tt.renew)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// 上面的失败路径都不应消费掉票据
	_, err = svc.Consume(ctx, ticket.Token, model.KindServiceTicket, testService, false)
	assert.NoError(t, err)
}

func TestTicketService_ConsumeRenewPrimary(t *testing.T) {
	svc, cleanup := newTestTicketService(t)
	defer cleanup()
	ctx := context.Background()

	ticket, err := svc.IssueServiceTicket(ctx, testService, "alice", true)
	require.NoError(t, err)

	// primary 票据通过 renew 校验
	_, err = svc.Consume(ctx, ticket.Token, model.KindServiceTicket, testService, true)
	assert.NoError(t, err)
}

func TestTicketService_ConsumeNormalizedService(t *testing.T) {
	svc, cleanup := newTestTicketService(t)
	defer cleanup()
	ctx := context.Background()

	ticket, err := svc.IssueServiceTicket(ctx, "https://App.Example.ORG:443/cb", "alice", false)
	require.NoError(t, err)

	// 规范化后等价的地址可以通过
	_, err = svc.Consume(ctx, ticket.Token, model.KindServiceTicket, "https://app.example.org/cb", false)
	assert.NoError(t, err)
}

func TestTicketService_ConsumeExpired(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()
	svc := NewTicketService(client, NewServiceRegistry(nil), &TicketServiceConfig{
		STExpiry: time.Millisecond,
	})
	ctx := context.Background()

	ticket, err := svc.IssueServiceTicket(ctx, testService, "alice", false)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = svc.Consume(ctx, ticket.Token, model.KindServiceTicket, testService, false)
	if err != ErrTicketExpired && err != ErrTicketNotFound {
		t.Errorf("期望过期或不存在错误, 实际 %v", err)
	}
}

func TestTicketService_ConsumeConcurrent(t *testing.T) {
	svc, cleanup := newTestTicketService(t)
	defer cleanup()
	ctx := context.Background()

	ticket, err := svc.IssueServiceTicket(ctx, testService, "alice", false)
	require.NoError(t, err)

	// 并发消费同一令牌，恰有一次成功
	const workers = 16
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

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrTicketConsumed, "失败方应观察到已使用错误")
		}
	}
	assert.Equal(t, 1, succeeded, "并发消费应恰有一次成功")
}

func TestTicketService_ServiceNotAllowed(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()
	svc := NewTicketService(client, NewServiceRegistry([]string{"https://app.example.org/"}), nil)
	ctx := context.Background()

	_, err := svc.IssueServiceTicket(ctx, "https://evil.example.org/cb", "alice", false)
	assert.ErrorIs(t, err, ErrServiceNotAllowed)

	_, err = svc.IssueProxyTicket(ctx, "https://evil.example.org/cb", "alice", nil)
	assert.ErrorIs(t, err, ErrServiceNotAllowed)
}

func TestTicketService_ProxyGrantingTicket(t *testing.T) {
	svc, cleanup := newTestTicketService(t)
	defer cleanup()
	ctx := context.Background()

	pgt := &model.Ticket{
		Token:     svc.NewToken(model.KindProxyGrantingTicket),
		Kind:      model.KindProxyGrantingTicket,
		Username:  "alice",
		Service:   testService,
		GrantedBy: "https://proxy-a.example.org/pgtCallback",
	}
	require.NoError(t, svc.SaveProxyGrantingTicket(ctx, pgt))

	// PGT 可多次读取，不会被消费
	for i := 0; i < 3; i++ {
		got, err := svc.GetProxyGrantingTicket(ctx, pgt.Token)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)
	}

	// PGT 不能走消费路径
	_, err := svc.Consume(ctx, pgt.Token, model.KindProxyGrantingTicket, testService, false)
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestTicketService_GetPGTInvalid(t *testing.T) {
	svc, cleanup := newTestTicketService(t)
	defer cleanup()
	ctx := context.Background()

	_, err := svc.GetProxyGrantingTicket(ctx, "PGT-missing")
	assert.ErrorIs(t, err, ErrPGTInvalid)

	// ST 令牌不是合法的 PGT
	st, err := svc.IssueServiceTicket(ctx, testService, "alice", false)
	require.NoError(t, err)
	_, err = svc.GetProxyGrantingTicket(ctx, st.Token)
	assert.ErrorIs(t, err, ErrPGTInvalid)
}
