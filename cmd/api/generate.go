package main

// ブラウザ側のフォーム処理 (cmd/web) を PUBLIC_DIR/scripts へビルドする。
// リポジトリのルートで `go generate ./cmd/api` を実行する。
//go:generate mkdir -p ../../public/scripts
//go:generate env GOOS=js GOARCH=wasm go build -o ../../public/scripts/mealplanner.wasm ../web
//go:generate cp $GOROOT/lib/wasm/wasm_exec.js ../../public/scripts/wasm_exec.js
