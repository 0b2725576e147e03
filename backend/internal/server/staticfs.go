package server

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// mediaFS 只读暴露公告引用的图片与视频文件，拒绝隐藏文件与目录列表。
type mediaFS struct {
	base http.FileSystem
}

// NewMediaFS 构造媒体目录文件系统。dir 为空时返回 nil，路由不注册 /media。
func NewMediaFS(dir string) http.FileSystem {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return &mediaFS{base: gin.Dir(dir, false)}
}

func (fs *mediaFS) Open(name string) (http.File, error) {
	clean := strings.TrimPrefix(name, "/")
	for _, segment := range strings.Split(clean, "/") {
		if strings.HasPrefix(segment, ".") {
			return nil, os.ErrNotExist
		}
	}
	return fs.base.Open(clean)
}
