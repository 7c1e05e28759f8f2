package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"comic-studio-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 上传文件到对象存储
// 文档里只存对象 Key, preview_url 给前端立即回显用
func UploadFile(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件: " + err.Error()})
		return
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败: " + err.Error()})
		return
	}
	defer src.Close()

	objectName := "uploads/" + uuid.NewString() + strings.ToLower(filepath.Ext(file.Filename))
	key, err := service.UploadToMinIO(src, objectName, file.Size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "上传失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":         key,
		"preview_url": service.WorkerMediaURL(key),
	})
}
