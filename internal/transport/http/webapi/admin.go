package webapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"senweaver-server-go/internal/domain/auth"
	"senweaver-server-go/internal/domain/keypool"
	"senweaver-server-go/internal/domain/keypool/repository"
	httptransport "senweaver-server-go/internal/transport/http"
)

// LoginRequest 管理员登录
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleLogin 管理员登录
// @Summary 管理员登录
// @Tags Admin
// @Accept json
// @Produce json
// @Param body body LoginRequest true "账号"
// @Success 200 {object} httptransport.APIResponse
// @Failure 401 {object} httptransport.APIResponse
// @Router /admin/login [post]
func (s *Service) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid JSON format", gin.H{"error": err.Error()})
		return
	}
	result, err := s.auth.Login(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	if errors.Is(err, auth.ErrInvalidCredentials) {
		httptransport.RespondError(c, http.StatusUnauthorized, "用户名或密码错误", nil)
		return
	}
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, result, "登录成功")
}

func (s *Service) handleLogout(c *gin.Context) {
	if err := s.auth.Logout(c.Request.Context(), httptransport.BearerToken(c.Request)); err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, nil, "已退出登录")
}

func (s *Service) handleProvidersList(c *gin.Context) {
	providers, err := s.admin.ListProviders(c.Request.Context())
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, providers, "")
}

func (s *Service) handleProviderCreate(c *gin.Context) {
	var in keypool.ProviderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid JSON format", gin.H{"error": err.Error()})
		return
	}
	provider, err := s.admin.CreateProvider(c.Request.Context(), in)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusCreated, provider, "")
}

func (s *Service) handleProviderUpdate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in keypool.ProviderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid JSON format", gin.H{"error": err.Error()})
		return
	}
	provider, err := s.admin.UpdateProvider(c.Request.Context(), id, in)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, provider, "")
}

func (s *Service) handleProviderDelete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := s.admin.DeleteProvider(c.Request.Context(), id); err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, nil, "供应商已停用")
}

func (s *Service) handlePoolsList(c *gin.Context) {
	pools, err := s.admin.ListPools(c.Request.Context(), uint(queryInt(c, "provider_id", 0)))
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, pools, "")
}

func (s *Service) handlePoolCreate(c *gin.Context) {
	var in keypool.PoolInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid JSON format", gin.H{"error": err.Error()})
		return
	}
	pool, err := s.admin.CreatePool(c.Request.Context(), in)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusCreated, keypool.PoolView{Pool: *pool, MaskedKey: pool.MaskedSecret()}, "")
}

func (s *Service) handlePoolBatchCreate(c *gin.Context) {
	var in keypool.BatchInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid JSON format", gin.H{"error": err.Error()})
		return
	}
	created, skipped, err := s.admin.BatchCreatePools(c.Request.Context(), in)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusCreated, gin.H{
		"created": len(created),
		"skipped": skipped,
	}, "")
}

func (s *Service) handlePoolUpdate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in keypool.PoolInput
	if err := c.ShouldBindJSON(&in); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "Invalid JSON format", gin.H{"error": err.Error()})
		return
	}
	pool, err := s.admin.UpdatePool(c.Request.Context(), id, in)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, keypool.PoolView{Pool: *pool, MaskedKey: pool.MaskedSecret()}, "")
}

func (s *Service) handlePoolDelete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := s.admin.DeletePool(c.Request.Context(), id); err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, nil, "密钥已停用")
}

// handlePoolProbe 探测密钥连通性
// @Summary 探测密钥连通性
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "密钥ID"
// @Success 200 {object} httptransport.APIResponse
// @Router /admin/pools/{id}/probe [post]
func (s *Service) handlePoolProbe(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	pool, provider, err := s.admin.FindPool(c.Request.Context(), id)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	result := s.prober.Probe(c.Request.Context(), provider.BaseURL, pool.Secret)
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"pool_id":  pool.ID,
		"provider": provider.Name,
		"result":   result,
	}, "")
}

func (s *Service) handleAllocationsList(c *gin.Context) {
	filter := repository.AllocationFilter{
		ClientID:   c.Query("client_id"),
		UserID:     c.Query("user_id"),
		ProviderID: uint(queryInt(c, "provider_id", 0)),
		ActiveOnly: c.DefaultQuery("active", "true") == "true",
		Limit:      queryInt(c, "limit", 0),
	}
	allocations, err := s.admin.ListAllocations(c.Request.Context(), filter)
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, allocations, "")
}

func (s *Service) handleAllocationRelease(c *gin.Context) {
	released, err := s.admin.ForceRelease(c.Request.Context(), c.Param("client_id"))
	if err != nil {
		httptransport.RespondErr(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{"released": released}, "")
}
