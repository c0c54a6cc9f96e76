package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess     = 0
	CodeParamError  = 400
	CodeNotFound    = 404
	CodeServerError = 500
)

// 业务错误码（贷款域）
const (
	CodeLoanNotFound      = 1001 // 贷款不存在
	CodeInvalidTransition = 1002 // 状态流转不允许
	CodeIllegalState      = 1003 // 贷款状态不允许该操作
	CodeRepaymentNotFound = 1004 // 还款记录不存在
	CodeWindowExpired     = 1005 // 超出 24 小时编辑窗口
	CodeOverpayment       = 1006 // 还款金额超过未还总额
	CodeIntegrityFault    = 1007 // 账务数据不一致
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
