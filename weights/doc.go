// Package weights 下载并缓存模型权重文件。
//
// 同名权重的并发下载只执行一次；下载写入同目录临时文件后原子重命名，
// 中途失败不会在缓存目录留下残缺文件。
package weights
