package disk

// DiskScheduler funnels all page I/O through a single background
// worker so requests are applied in submission order. Callers that
// need synchronous behavior block on the response channel.
type DiskScheduler struct {
	reqCh       chan DiskReq
	doneCh      chan struct{}
	diskManager *DiskManager
}

type DiskReq struct {
	PageId PageId
	Data   []byte
	Write  bool
	RespCh chan DiskResp
}

type DiskResp struct {
	Success bool
	Data    []byte
	Err     error
}

func NewScheduler(diskManager *DiskManager) *DiskScheduler {
	ds := &DiskScheduler{
		reqCh:       make(chan DiskReq, 100),
		doneCh:      make(chan struct{}),
		diskManager: diskManager,
	}

	go ds.handleDiskReq()
	return ds
}

func NewRequest(pageId PageId, data []byte, isWrite bool) DiskReq {
	return DiskReq{
		PageId: pageId,
		Data:   data,
		Write:  isWrite,
		RespCh: make(chan DiskResp, 1),
	}
}

func (ds *DiskScheduler) Schedule(req DiskReq) <-chan DiskResp {
	ds.reqCh <- req
	return req.RespCh
}

// AllocatePage and DeallocatePage don't go through the worker, page id
// bookkeeping isn't ordered against data I/O.
func (ds *DiskScheduler) AllocatePage() PageId {
	return ds.diskManager.AllocatePage()
}

func (ds *DiskScheduler) DeallocatePage(pageId PageId) {
	ds.diskManager.DeallocatePage(pageId)
}

func (ds *DiskScheduler) Close() {
	close(ds.reqCh)
	<-ds.doneCh
}

func (ds *DiskScheduler) handleDiskReq() {
	defer close(ds.doneCh)

	for req := range ds.reqCh {
		if req.Write {
			if err := ds.diskManager.WritePage(req.PageId, req.Data); err != nil {
				req.RespCh <- DiskResp{Success: false, Err: err}
			} else {
				req.RespCh <- DiskResp{Success: true}
			}
		} else {
			if data, err := ds.diskManager.ReadPage(req.PageId); err != nil {
				req.RespCh <- DiskResp{Success: false, Err: err}
			} else {
				req.RespCh <- DiskResp{Success: true, Data: data}
			}
		}
	}
}
