package scheduler

import "github.com/nikobus/gateway/pkg/codec"

// MatchFunc builds a Matcher that accepts any frame with the given function
// code, regardless of address — used for the generic 0x05 ACK echo.
func MatchFunc(fn codec.FuncCode) Matcher {
	return func(f *codec.Frame) bool {
		return f.Func == fn
	}
}

// MatchFuncAddress builds a Matcher that additionally requires the decoded
// address to match — used for answer frames, which mirror the module
// address the command targeted.
func MatchFuncAddress(fn codec.FuncCode, addr uint16) Matcher {
	return func(f *codec.Frame) bool {
		return f.Func == fn && f.HasAddr && f.Address == addr
	}
}
