package handler

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the bridge API on the given group, normally /api.
// preview and ws may be nil.
func RegisterRoutes(api gin.IRoutes, files *FileHandler, preview *PreviewHandler, ws *WSHandler) {
	api.GET("/file", files.GetFile)
	api.PUT("/file", files.PutFile)
	api.DELETE("/file", files.DeleteFile)

	if preview != nil {
		api.POST("/preview", preview.Preview)
	}
	if ws != nil {
		api.GET("/ws", ws.HandleWS)
	}
}
