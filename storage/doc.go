// Package storage 管理生成结果、上传文件与权重缓存的目录布局，
// 负责唯一文件命名和根目录内的安全路径解析。
package storage
