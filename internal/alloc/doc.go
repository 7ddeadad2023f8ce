// Package alloc hands out the fresh identities a rewrite needs: plan node ids
// and symbols.
//
// Both allocators are safe for concurrent use. One pair of allocators serves
// one optimization; tests build their own so name sequences stay
// deterministic.
package alloc
