package handler

import (
	"time"

	"chatrelay/pkg/response"
	"chatrelay/pkg/upload"

	"github.com/gin-gonic/gin"
)

// UploadHandler 上传签名接口
// 只负责签发限时授权，媒体内容走第三方上传服务，不经过本服务
type UploadHandler struct {
	signer *upload.Signer
}

// NewUploadHandler 创建UploadHandler实例
func NewUploadHandler(signer *upload.Signer) *UploadHandler {
	return &UploadHandler{signer: signer}
}

// Sign 签发一次直传授权
func (h *UploadHandler) Sign(c *gin.Context) {
	grant, err := h.signer.Issue(time.Now())
	if err != nil {
		response.InternalError(c, "签名生成失败")
		return
	}
	response.Success(c, grant)
}
