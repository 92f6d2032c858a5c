package web

import (
	"embed"
	"io/fs"
)

// Static 状态页（index.html）及其脚本，连接 /ws 实时显示进度。
//
//go:embed static
var Static embed.FS

// StaticFS 去掉 static/ 前缀后的文件系统，供 HTTP 服务挂载。
func StaticFS() fs.FS {
	sub, err := fs.Sub(Static, "static")
	if err != nil {
		// embed 目录在编译期已确定，这里不会失败
		panic(err)
	}
	return sub
}
