package svc

import "errors"

// ErrNoStorage 所有持久化后端都初始化失败
var ErrNoStorage = errors.New("no storage backend available")

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")
