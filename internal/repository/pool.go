package repository

import "context"

// HangoutPool 定义了预创建 hangout URL 池的操作，由 Redis list 实现，
// 跨重启持久。
type HangoutPool interface {
	// NextURL 弹出池中最早入池的 URL。
	// 池为空时返回 ErrPoolEmpty。
	NextURL(ctx context.Context) (string, error)

	// ReuseURL 把未被消耗的 URL 放回池尾。
	// 只用于竞态落败方归还：已经交给浏览器的 URL 不回池。
	ReuseURL(ctx context.Context, url string) error

	// AddURL 把新 farm 到的 URL 加入池尾。
	AddURL(ctx context.Context, url string) error

	// Available 返回池中当前可用的 URL 数量。
	Available(ctx context.Context) (int64, error)
}

// SubscriptionRepository 定义了上线通知邮箱列表的操作。
type SubscriptionRepository interface {
	// Add 追加一个订阅邮箱。
	Add(ctx context.Context, email string) error
}
