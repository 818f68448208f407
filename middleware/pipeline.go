package middleware

import "net/netip"

// Source is the peer an inbound span came from.
type Source interface {
	Fd() int32
	RemoteAddr() netip.AddrPort
	Status() string
}

// Context carries one inbound span through the pipeline.
// Data aliases the relay's read buffer and must not be retained or modified.
type Context struct {
	Data   []byte
	Fd     int32
	Source Source
}

type NextFunc func(*Context) error

// MiddlewareFunc は受信データを観測します。エラーを返すとそのデータは転送されません。
type MiddlewareFunc func(*Context, NextFunc) error

type Pipeline struct {
	middlewares []MiddlewareFunc
}

func NewPipeline() *Pipeline {
	return &Pipeline{
		middlewares: make([]MiddlewareFunc, 0),
	}
}

func (p *Pipeline) Use(middleware MiddlewareFunc) *Pipeline {
	p.middlewares = append(p.middlewares, middleware)
	return p
}

func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

func (p *Pipeline) Execute(ctx *Context) error {
	return p.executeMiddleware(0, ctx)
}

func (p *Pipeline) executeMiddleware(index int, ctx *Context) error {
	if index >= len(p.middlewares) {
		return nil
	}

	next := func(ctx *Context) error {
		return p.executeMiddleware(index+1, ctx)
	}

	return p.middlewares[index](ctx, next)
}

func NewContext(data []byte, source Source) *Context {
	return &Context{
		Data:   data,
		Fd:     source.Fd(),
		Source: source,
	}
}
